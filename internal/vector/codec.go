package vector

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Wire shape:
//
//	{"schema":{"fields":[{"index":0,"name":"id","logicalType":"INT","nullable":false}]},
//	 "rowCount":2,
//	 "vectors":[{"type":"i32","i32Values":[1,2],"nulls":[false,false]}]}
type wireBlock struct {
	Schema   Schema       `json:"schema"`
	RowCount int          `json:"rowCount"`
	Vectors  []wireVector `json:"vectors"`
}

type wireVector struct {
	Type     PhysicalType `json:"type"`
	Int32s   []int32      `json:"i32Values,omitempty"`
	Int64s   []int64      `json:"i64Values,omitempty"`
	Float32s float32s     `json:"fp32Values,omitempty"`
	Float64s float64s     `json:"fp64Values,omitempty"`
	Bools    []bool       `json:"boolValues,omitempty"`
	Strings  []string     `json:"stringValues,omitempty"`
	Bytes    [][]byte     `json:"bytesValues,omitempty"`
	Nulls    []bool       `json:"nulls"`
}

// MarshalJSON implements json.Marshaler.
func (b *Block) MarshalJSON() ([]byte, error) {
	w := wireBlock{Schema: b.Schema, RowCount: b.RowCount, Vectors: make([]wireVector, len(b.Vectors))}
	if w.Schema.Fields == nil {
		w.Schema.Fields = []Field{}
	}
	for i, v := range b.Vectors {
		nulls := v.Nulls
		if nulls == nil {
			nulls = []bool{}
		}
		w.Vectors[i] = wireVector{
			Type:     v.Type,
			Int32s:   v.Int32s,
			Int64s:   v.Int64s,
			Float32s: v.Float32s,
			Float64s: v.Float64s,
			Bools:    v.Bools,
			Strings:  v.Strings,
			Bytes:    v.Bytes,
			Nulls:    nulls,
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler. The decoded block is validated.
func (b *Block) UnmarshalJSON(data []byte) error {
	var w wireBlock
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	vectors := make([]Vector, len(w.Vectors))
	for i, v := range w.Vectors {
		vectors[i] = Vector{
			Type:     v.Type,
			Int32s:   v.Int32s,
			Int64s:   v.Int64s,
			Float32s: v.Float32s,
			Float64s: v.Float64s,
			Bools:    v.Bools,
			Strings:  v.Strings,
			Bytes:    v.Bytes,
			Nulls:    v.Nulls,
		}
	}
	decoded := Block{Schema: w.Schema, RowCount: w.RowCount, Vectors: vectors}
	if err := decoded.Validate(); err != nil {
		return fmt.Errorf("decode block: %w", err)
	}
	*b = decoded
	return nil
}

// Encode serializes a block to its JSON wire form.
func Encode(b *Block) ([]byte, error) { return json.Marshal(b) }

// Decode parses a block from its JSON wire form.
func Decode(data []byte) (*Block, error) {
	var b Block
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// float64s encodes non-finite values as the strings "NaN", "+Inf" and "-Inf",
// which plain JSON numbers cannot carry.
type float64s []float64

func (f float64s) MarshalJSON() ([]byte, error) { return marshalFloats(f, 64) }

func (f *float64s) UnmarshalJSON(data []byte) error {
	vals, err := unmarshalFloats(data, 64)
	if err != nil {
		return err
	}
	*f = vals
	return nil
}

type float32s []float32

func (f float32s) MarshalJSON() ([]byte, error) {
	wide := make([]float64, len(f))
	for i, v := range f {
		wide[i] = float64(v)
	}
	return marshalFloats(wide, 32)
}

func (f *float32s) UnmarshalJSON(data []byte) error {
	vals, err := unmarshalFloats(data, 32)
	if err != nil {
		return err
	}
	if vals == nil {
		*f = nil
		return nil
	}
	out := make([]float32, len(vals))
	for i, v := range vals {
		out[i] = float32(v)
	}
	*f = out
	return nil
}

func marshalFloats(vals []float64, bitSize int) ([]byte, error) {
	if vals == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, v := range vals {
		if i > 0 {
			buf.WriteByte(',')
		}
		switch {
		case math.IsNaN(v):
			buf.WriteString(`"NaN"`)
		case math.IsInf(v, 1):
			buf.WriteString(`"+Inf"`)
		case math.IsInf(v, -1):
			buf.WriteString(`"-Inf"`)
		default:
			buf.WriteString(strconv.FormatFloat(v, 'g', -1, bitSize))
		}
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func unmarshalFloats(data []byte, bitSize int) ([]float64, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	out := make([]float64, len(raw))
	for i, r := range raw {
		s := string(r)
		if len(s) > 0 && s[0] == '"' {
			unquoted, err := strconv.Unquote(s)
			if err != nil {
				return nil, err
			}
			s = unquoted
		}
		v, err := strconv.ParseFloat(s, bitSize)
		if err != nil {
			return nil, fmt.Errorf("float value %s: %w", string(r), err)
		}
		out[i] = v
	}
	return out, nil
}
