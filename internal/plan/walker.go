package plan

import (
	"strings"

	pb "github.com/substrait-io/substrait-protobuf/go/substraitpb"
	"google.golang.org/protobuf/reflect/protoreflect"
)

// Rels returns every relation in the plan in pre-order, including relations
// nested inside expressions such as subqueries.
func Rels(p *Plan) []*pb.Rel {
	if p == nil || p.p == nil {
		return nil
	}
	var out []*pb.Rel
	collectRels(p.p.ProtoReflect(), &out)
	return out
}

func collectRels(m protoreflect.Message, out *[]*pb.Rel) {
	if rel, ok := m.Interface().(*pb.Rel); ok {
		*out = append(*out, rel)
	}
	m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
		switch {
		case fd.IsMap():
			if fd.MapValue().Message() != nil {
				v.Map().Range(func(_ protoreflect.MapKey, mv protoreflect.Value) bool {
					collectRels(mv.Message(), out)
					return true
				})
			}
		case fd.IsList():
			if fd.Message() != nil {
				l := v.List()
				for i := 0; i < l.Len(); i++ {
					collectRels(l.Get(i).Message(), out)
				}
			}
		case fd.Message() != nil:
			collectRels(v.Message(), out)
		}
		return true
	})
}

// TableName returns the table path of a read over a named table, or nil.
func TableName(read *pb.ReadRel) []string {
	nt := read.GetNamedTable()
	if nt == nil || len(nt.GetNames()) == 0 {
		return nil
	}
	return nt.GetNames()
}

// Tables returns the deduplicated table paths read by the plan, in order of
// first appearance.
func Tables(p *Plan) [][]string {
	seen := make(map[string]bool)
	var tables [][]string
	for _, rel := range Rels(p) {
		read := rel.GetRead()
		if read == nil {
			continue
		}
		names := TableName(read)
		if names == nil {
			continue
		}
		key := strings.ToLower(strings.Join(names, "\x00"))
		if seen[key] {
			continue
		}
		seen[key] = true
		tables = append(tables, append([]string(nil), names...))
	}
	return tables
}

// TopLevelNames returns the names of the top-level fields of a named struct.
// Substrait lists nested struct field names depth-first in the same slice.
func TopLevelNames(ns *pb.NamedStruct) []string {
	names := ns.GetNames()
	types := ns.GetStruct().GetTypes()
	out := make([]string, 0, len(types))
	idx := 0
	for _, t := range types {
		if idx >= len(names) {
			break
		}
		out = append(out, names[idx])
		idx += 1 + nestedNameCount(t)
	}
	return out
}

func nestedNameCount(t *pb.Type) int {
	st := t.GetStruct()
	if st == nil {
		return 0
	}
	n := 0
	for _, child := range st.GetTypes() {
		n += 1 + nestedNameCount(child)
	}
	return n
}
