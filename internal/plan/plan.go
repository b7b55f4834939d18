// Package plan wraps Substrait logical plans exchanged between the compiler,
// the rewrite chain and the executor.
package plan

import (
	"fmt"

	pb "github.com/substrait-io/substrait-protobuf/go/substraitpb"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

// Plan is a Substrait plan. The zero value is not usable; use New or Decode.
type Plan struct {
	p *pb.Plan
}

// New wraps p. The caller must not mutate p afterwards.
func New(p *pb.Plan) *Plan {
	if p == nil {
		p = &pb.Plan{}
	}
	return &Plan{p: p}
}

// Decode parses a binary Substrait plan.
func Decode(data []byte) (*Plan, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plan")
	}
	p := &pb.Plan{}
	if err := proto.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("unmarshal plan: %w", err)
	}
	if len(p.GetRelations()) == 0 {
		return nil, fmt.Errorf("plan has no relations")
	}
	return &Plan{p: p}, nil
}

// DecodeJSON parses a plan in the Substrait protobuf JSON mapping.
func DecodeJSON(data []byte) (*Plan, error) {
	p := &pb.Plan{}
	if err := protojson.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("unmarshal plan json: %w", err)
	}
	if len(p.GetRelations()) == 0 {
		return nil, fmt.Errorf("plan has no relations")
	}
	return &Plan{p: p}, nil
}

// Encode returns the binary encoding of the plan.
func (p *Plan) Encode() ([]byte, error) {
	data, err := proto.Marshal(p.p)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}
	return data, nil
}

// JSON returns the protobuf JSON mapping of the plan.
func (p *Plan) JSON() ([]byte, error) {
	return protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(p.p)
}

// Clone returns a deep copy.
func (p *Plan) Clone() *Plan {
	return &Plan{p: proto.Clone(p.p).(*pb.Plan)}
}

// Proto exposes the underlying message. Callers that mutate it must own the
// plan, typically via Clone.
func (p *Plan) Proto() *pb.Plan { return p.p }

// OutputNames returns the output column names of the first root relation.
func (p *Plan) OutputNames() []string {
	for _, rel := range p.p.GetRelations() {
		if root := rel.GetRoot(); root != nil {
			return root.GetNames()
		}
	}
	return nil
}
