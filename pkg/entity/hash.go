package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/gowebpki/jcs"
)

// Hash returns the version hash of an entity state: the hex SHA-256 of the
// RFC 8785 canonical JSON of {"kind": ..., "data": ...}. Two states hash
// equal iff they have the same kind and the same field values. A nil entity
// hashes to the empty string.
func Hash(e Entity) (string, error) {
	if e == nil {
		return "", nil
	}
	raw, err := json.Marshal(struct {
		Kind Kind   `json:"kind"`
		Data Entity `json:"data"`
	}{e.Kind(), e})
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// MustHash is Hash for states already known to be encodable.
func MustHash(e Entity) string {
	h, err := Hash(e)
	if err != nil {
		panic(err)
	}
	return h
}
