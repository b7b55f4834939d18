package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"vectorgate/internal/policy/expr"
)

// Format is a policy document encoding.
type Format string

// Supported formats.
const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the format from a file extension; anything that is not
// .yaml or .yml is read as JSON.
func FormatFromPath(p string) Format {
	switch strings.ToLower(path.Ext(p)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// ParseFormat parses a format name.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("unknown policy format %q", s)
}

type wirePolicy struct {
	Name    string       `json:"name" yaml:"name"`
	Actions []wireAction `json:"actions" yaml:"actions"`
}

type wireAction struct {
	Verb          Verb        `json:"verb" yaml:"verb"`
	Type          Kind        `json:"type" yaml:"type"`
	Table         []string    `json:"table" yaml:"table"`
	Expression    any         `json:"expression,omitempty" yaml:"expression,omitempty"`
	RawExpression string      `json:"rawExpression,omitempty" yaml:"rawExpression,omitempty"`
	Columns       []string    `json:"columns,omitempty" yaml:"columns,omitempty"`
	ColumnsMode   ColumnsMode `json:"columnsMode,omitempty" yaml:"columnsMode,omitempty"`
	Exclusive     bool        `json:"exclusive,omitempty" yaml:"exclusive,omitempty"`
}

// Read decodes a policy document in the given format.
func Read(r io.Reader, f Format) (*Set, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read policies: %w", err)
	}
	if f == FormatYAML {
		return ReadYAML(data)
	}
	return ReadJSON(data)
}

// Write encodes s in the given format.
func Write(w io.Writer, s *Set, f Format) error {
	var (
		data []byte
		err  error
	)
	if f == FormatYAML {
		data, err = WriteYAML(s)
	} else {
		data, err = WriteJSON(s)
	}
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// ReadJSON decodes a JSON policy document: a list of policies.
func ReadJSON(data []byte) (*Set, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	var wire []wirePolicy
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("decode policies: %w", err)
	}
	return fromWire(wire)
}

// ReadYAML decodes a YAML policy document: a list of policies.
func ReadYAML(data []byte) (*Set, error) {
	var wire []wirePolicy
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&wire); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode policies: %w", err)
	}
	return fromWire(wire)
}

// WriteJSON encodes s as indented JSON terminated by a newline.
func WriteJSON(s *Set) ([]byte, error) {
	data, err := json.MarshalIndent(toWire(s), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode policies: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteYAML encodes s as YAML.
func WriteYAML(s *Set) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(toWire(s)); err != nil {
		return nil, fmt.Errorf("encode policies: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func toWire(s *Set) []wirePolicy {
	out := make([]wirePolicy, 0, s.Len())
	for _, p := range s.policies {
		wp := wirePolicy{Name: p.Name, Actions: make([]wireAction, 0, len(p.Actions))}
		for _, a := range p.Actions {
			wa := wireAction{
				Verb:          a.Verb,
				Type:          a.Kind,
				Table:         a.Table,
				RawExpression: a.RawExpression,
				Columns:       a.Columns,
				ColumnsMode:   a.ColumnsMode,
				Exclusive:     a.Exclusive,
			}
			if a.Expression != nil {
				wa.Expression = expr.ToWire(a.Expression)
			}
			wp.Actions = append(wp.Actions, wa)
		}
		out = append(out, wp)
	}
	return out
}

func fromWire(wire []wirePolicy) (*Set, error) {
	policies := make([]Policy, 0, len(wire))
	for _, wp := range wire {
		p := Policy{Name: wp.Name, Actions: make([]Action, 0, len(wp.Actions))}
		for i, wa := range wp.Actions {
			a := Action{
				Kind:          Kind(strings.ToUpper(string(wa.Type))),
				Verb:          Verb(strings.ToUpper(string(wa.Verb))),
				Table:         wa.Table,
				RawExpression: wa.RawExpression,
				Columns:       wa.Columns,
				ColumnsMode:   ColumnsMode(strings.ToUpper(string(wa.ColumnsMode))),
				Exclusive:     wa.Exclusive,
			}
			if a.Verb == "" {
				a.Verb = VerbAllow
			}
			if wa.Expression != nil {
				n, err := expr.FromValue(wa.Expression)
				if err != nil {
					return nil, fmt.Errorf("policy %q action %d: expression: %w", wp.Name, i, err)
				}
				a.Expression = n
			}
			p.Actions = append(p.Actions, a)
		}
		policies = append(policies, p)
	}
	return NewSet(policies...)
}
