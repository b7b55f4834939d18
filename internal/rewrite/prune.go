package rewrite

import (
	pb "github.com/substrait-io/substrait-protobuf/go/substraitpb"

	"vectorgate/internal/domain"
)

// pruneMaskedOutputs drops masked columns from every root whose output
// carries them unchanged from a masked read. Columns that went through joins,
// aggregates or computed expressions stay as NULLs. A root left with no
// columns is denied.
func pruneMaskedOutputs(pp *pb.Plan, masks map[*pb.ProjectRel]map[int]bool) error {
	for _, pr := range pp.GetRelations() {
		root := pr.GetRoot()
		if root == nil {
			continue
		}
		arity, masked, ok := traceMasked(root.GetInput(), masks)
		if !ok || len(masked) == 0 || len(root.GetNames()) != arity {
			continue
		}
		if len(masked) == arity {
			return domain.ErrAccessDenied("every output column of the query is masked")
		}
		common := ensureCommon(root.GetInput())
		if common == nil {
			continue
		}
		current := emitMapping(common, arity)
		mapping := make([]int32, 0, arity-len(masked))
		names := make([]string, 0, arity-len(masked))
		for pos := range arity {
			if masked[pos] {
				continue
			}
			mapping = append(mapping, current[pos])
			names = append(names, root.Names[pos])
		}
		common.EmitKind = &pb.RelCommon_Emit_{Emit: &pb.RelCommon_Emit{OutputMapping: mapping}}
		root.Names = names
	}
	return nil
}

// traceMasked returns the output arity of rel and which of its output
// positions are masked columns passed through untouched. ok is false when rel
// holds a relation whose outputs cannot be followed.
func traceMasked(rel *pb.Rel, masks map[*pb.ProjectRel]map[int]bool) (int, map[int]bool, bool) {
	switch x := rel.GetRelType().(type) {
	case *pb.Rel_Project:
		p := x.Project
		if m, ok := masks[p]; ok {
			return len(p.GetCommon().GetEmit().GetOutputMapping()), m, true
		}
		inArity, inMasked, ok := traceMasked(p.GetInput(), masks)
		if !ok {
			return 0, nil, false
		}
		combined := make(map[int]bool, len(inMasked))
		for pos := range inMasked {
			combined[pos] = true
		}
		for i, e := range p.GetExpressions() {
			if f, direct := directField(e); direct && inMasked[f] {
				combined[inArity+i] = true
			}
		}
		return applyEmit(p.GetCommon(), inArity+len(p.GetExpressions()), combined)
	case *pb.Rel_Filter:
		return passThrough(x.Filter.GetCommon(), x.Filter.GetInput(), masks)
	case *pb.Rel_Sort:
		return passThrough(x.Sort.GetCommon(), x.Sort.GetInput(), masks)
	case *pb.Rel_Fetch:
		return passThrough(x.Fetch.GetCommon(), x.Fetch.GetInput(), masks)
	case *pb.Rel_Read:
		read := x.Read
		outputs, err := readOutputs(read, len(read.GetBaseSchema().GetStruct().GetTypes()))
		if err != nil {
			return 0, nil, false
		}
		return len(outputs), nil, true
	}
	return 0, nil, false
}

func passThrough(common *pb.RelCommon, input *pb.Rel, masks map[*pb.ProjectRel]map[int]bool) (int, map[int]bool, bool) {
	arity, masked, ok := traceMasked(input, masks)
	if !ok {
		return 0, nil, false
	}
	return applyEmit(common, arity, masked)
}

func applyEmit(common *pb.RelCommon, arity int, masked map[int]bool) (int, map[int]bool, bool) {
	emit := common.GetEmit()
	if emit == nil {
		return arity, masked, true
	}
	out := map[int]bool{}
	for pos, m := range emit.GetOutputMapping() {
		if int(m) >= arity {
			return 0, nil, false
		}
		if masked[int(m)] {
			out[pos] = true
		}
	}
	return len(emit.GetOutputMapping()), out, true
}

func emitMapping(common *pb.RelCommon, arity int) []int32 {
	if emit := common.GetEmit(); emit != nil {
		return emit.GetOutputMapping()
	}
	mapping := make([]int32, arity)
	for i := range mapping {
		mapping[i] = int32(i)
	}
	return mapping
}

func ensureCommon(rel *pb.Rel) *pb.RelCommon {
	var slot **pb.RelCommon
	switch x := rel.GetRelType().(type) {
	case *pb.Rel_Project:
		slot = &x.Project.Common
	case *pb.Rel_Filter:
		slot = &x.Filter.Common
	case *pb.Rel_Sort:
		slot = &x.Sort.Common
	case *pb.Rel_Fetch:
		slot = &x.Fetch.Common
	default:
		return nil
	}
	if *slot == nil {
		*slot = &pb.RelCommon{}
	}
	return *slot
}

// directField reports whether e is a plain reference to a root-level input
// field, and which.
func directField(e *pb.Expression) (int, bool) {
	sel := e.GetSelection()
	if sel == nil || sel.GetRootReference() == nil {
		return 0, false
	}
	sf := sel.GetDirectReference().GetStructField()
	if sf == nil || sf.GetChild() != nil {
		return 0, false
	}
	return int(sf.GetField()), true
}
