package entity

// State is the canonical state of one entity with its version metadata.
type State struct {
	Entity  Entity `json:"data"`
	Hash    string `json:"hash"`
	Version int64  `json:"version"`
}

// Snapshot maps refs to their canonical state. A ref missing from the map
// does not exist.
type Snapshot map[Ref]State

// Lookup returns the state of ref.
func (s Snapshot) Lookup(ref Ref) (State, bool) {
	st, ok := s[ref]
	return st, ok
}
