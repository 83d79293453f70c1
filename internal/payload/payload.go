// Package payload reads proposals and canonical edits from YAML or JSON
// documents, as produced by generators or written by hand.
package payload

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/ratify/internal/knowledge"
	"github.com/agentstation/ratify/pkg/entity"
	"github.com/agentstation/ratify/pkg/errors"
	"github.com/agentstation/ratify/pkg/proposal"
)

// Format is a document encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf picks a format from a file extension. Unknown extensions and
// stdin ("-") are sniffed from content.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}
	return ""
}

func sniff(data []byte) Format {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}
	return FormatYAML
}

// toJSON normalizes a document to JSON so the JSON decoders of the domain
// types apply to both encodings.
func toJSON(data []byte, format Format, name string) ([]byte, error) {
	if format == "" {
		format = sniff(data)
	}
	if format == FormatJSON {
		return data, nil
	}
	out, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, errors.WrapParse(string(FormatYAML), name, err)
	}
	return out, nil
}

func decodeStrict(data []byte, v any, format Format, name string) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.IsValidationError(err) {
			return err
		}
		if format == "" {
			format = FormatJSON
		}
		return errors.WrapParse(string(format), name, err)
	}
	return nil
}

// ReadProposal decodes one proposal. When a document declares no counts at
// all they are derived from its changes; declared counts are kept as is and
// checked on submission.
func ReadProposal(r io.Reader, format Format, name string) (*proposal.Proposal, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WrapIO("read", name, err)
	}
	js, err := toJSON(data, format, name)
	if err != nil {
		return nil, err
	}
	var p proposal.Proposal
	if err := decodeStrict(js, &p, format, name); err != nil {
		return nil, err
	}
	if p.CreatesCount == 0 && p.UpdatesCount == 0 && p.DeletesCount == 0 {
		p.CreatesCount, p.UpdatesCount, p.DeletesCount = p.Counts()
	}
	return &p, nil
}

// LoadProposal reads a proposal file; "-" reads stdin.
func LoadProposal(path string) (*proposal.Proposal, error) {
	r, closeFn, err := open(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return ReadProposal(r, FormatOf(path), path)
}

// Edit is the document form of a direct canonical write.
type Edit struct {
	ProjectID  string             `json:"project_id"`
	Operation  proposal.Operation `json:"operation"`
	EntityType entity.Kind        `json:"entity_type"`
	EntityID   string             `json:"entity_id,omitempty"`
	Data       json.RawMessage    `json:"data,omitempty"`
}

// Mutation converts the edit into a store mutation, decoding Data by kind.
func (e *Edit) Mutation() (knowledge.Mutation, error) {
	m := knowledge.Mutation{Op: e.Operation, Ref: entity.Ref{Kind: e.EntityType, ID: e.EntityID}}
	if e.Operation == proposal.OpDelete {
		if len(e.Data) > 0 && string(e.Data) != "null" {
			return m, errors.NewValidationError("data", nil, "must be absent for delete")
		}
		return m, nil
	}
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return m, errors.NewValidationError("data", nil, "is required for "+string(e.Operation))
	}
	after, err := entity.Decode(e.EntityType, e.Data)
	if err != nil {
		return m, err
	}
	m.After = after
	return m, nil
}

// ReadEdit decodes one edit document.
func ReadEdit(r io.Reader, format Format, name string) (*Edit, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.WrapIO("read", name, err)
	}
	js, err := toJSON(data, format, name)
	if err != nil {
		return nil, err
	}
	var e Edit
	if err := decodeStrict(js, &e, format, name); err != nil {
		return nil, err
	}
	if strings.TrimSpace(e.ProjectID) == "" {
		return nil, errors.NewValidationError("project_id", e.ProjectID, "is required")
	}
	return &e, nil
}

// LoadEdit reads an edit file; "-" reads stdin.
func LoadEdit(path string) (*Edit, error) {
	r, closeFn, err := open(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	return ReadEdit(r, FormatOf(path), path)
}

func open(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.NewNotFoundError("file", path)
		}
		return nil, nil, errors.WrapIO("open", path, err)
	}
	return f, func() { _ = f.Close() }, nil
}

func (f Format) String() string {
	if f == "" {
		return "auto"
	}
	return string(f)
}
