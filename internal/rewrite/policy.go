package rewrite

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	pb "github.com/substrait-io/substrait-protobuf/go/substraitpb"
	"google.golang.org/protobuf/reflect/protoreflect"

	"vectorgate/internal/domain"
	"vectorgate/internal/plan"
	"vectorgate/internal/policy"
)

// PolicyRewriter splices the caller's policy decisions into every read of a
// named table: denied tables fail the rewrite and row filters are pushed into
// the read. Masked columns become typed NULLs at the read and are dropped from
// the plan output wherever they reach the root unchanged.
type PolicyRewriter struct {
	logger *slog.Logger
}

// NewPolicyRewriter creates a PolicyRewriter.
func NewPolicyRewriter(logger *slog.Logger) *PolicyRewriter {
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyRewriter{logger: logger.With("component", "policy-rewriter")}
}

// Rewrite returns a rewritten copy of p. Any table the caller may not read,
// and any filter that cannot be applied, fails with an AccessDeniedError.
func (r *PolicyRewriter) Rewrite(_ context.Context, p *plan.Plan, rc *Context) (*plan.Plan, error) {
	out := p.Clone()
	pp := out.Proto()
	set := rc.policies()
	aa := newAnchors(pp)
	masks := map[*pb.ProjectRel]map[int]bool{}

	// Collect first: masking replaces read relations in place.
	for _, rel := range plan.Rels(out) {
		read := rel.GetRead()
		if read == nil {
			continue
		}
		table := plan.TableName(read)
		if table == nil {
			continue
		}
		resolved := set.Resolve(rc.groups(), table)
		d, mask, err := r.applyRead(pp, aa, rel, read, resolved)
		rc.record(d)
		if err != nil {
			r.logger.Info("access denied", "table", joinPath(table), "reason", d.Reason)
			return nil, err
		}
		if mask != nil {
			masks[mask.project] = mask.positions
		}
	}
	if len(masks) > 0 {
		if err := pruneMaskedOutputs(pp, masks); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// readMask is the projection maskRead put over a read and the output
// positions it nulls out.
type readMask struct {
	project   *pb.ProjectRel
	positions map[int]bool
}

func (r *PolicyRewriter) applyRead(pp *pb.Plan, aa *anchors, rel *pb.Rel, read *pb.ReadRel, resolved policy.ResolvedActions) (Decision, *readMask, error) {
	table := resolved.Table
	d := Decision{Table: table, Access: policy.Allowed}
	deny := func(format string, args ...any) (Decision, *readMask, error) {
		err := domain.ErrAccessDenied(format, args...)
		d.Access = policy.Denied
		d.Reason = err.Message
		return d, nil, err
	}

	if resolved.IsDenied() {
		return deny("access to table %s is denied", joinPath(table))
	}

	names := plan.TopLevelNames(read.GetBaseSchema())
	types := read.GetBaseSchema().GetStruct().GetTypes()
	if len(types) > len(names) {
		types = types[:len(names)]
	}

	masked := map[int]bool{}
	var outputs []int
	if resolved.HasColumnRules() {
		for i, name := range names {
			if ok, _ := resolved.ColumnAllowed(name); !ok {
				masked[i] = true
				d.Masked = append(d.Masked, name)
			}
		}
		if len(names) > 0 && len(masked) == len(names) {
			return deny("all columns of table %s are masked", joinPath(table))
		}
		var err error
		if outputs, err = readOutputs(read, len(types)); err != nil {
			return deny("table %s: %v", joinPath(table), err)
		}
		if len(outputs) > 0 && !slices.ContainsFunc(outputs, func(i int) bool { return !masked[i] }) {
			return deny("every requested column of table %s is masked", joinPath(table))
		}
		for _, existing := range []*pb.Expression{read.GetFilter(), read.GetBestEffortFilter()} {
			for _, idx := range referencedFields(existing) {
				if masked[idx] {
					return deny("query predicate on table %s references masked column %q", joinPath(table), names[idx])
				}
			}
		}
	}

	if resolved.HasRowFilters() {
		conv := &exprConverter{plan: pp, anchors: aa, names: names, types: types}
		conds := make([]*pb.Expression, 0, len(resolved.RowFilters))
		for _, f := range resolved.RowFilters {
			if f.Expression == nil {
				return deny("row filter of policy %q on table %s has no structured expression", f.Policy, joinPath(table))
			}
			cond, err := conv.convert(f.Expression)
			if err != nil {
				return deny("row filter of policy %q on table %s cannot be applied: %v", f.Policy, joinPath(table), err)
			}
			if f.Verb == policy.VerbDeny {
				cond = conv.not(cond)
			}
			conds = append(conds, cond)
			d.RowFilters = append(d.RowFilters, f.Policy)
		}
		if read.Filter != nil {
			conds = append([]*pb.Expression{read.Filter}, conds...)
		}
		read.Filter = conv.and(conds...)
	}

	if len(masked) > 0 && slices.ContainsFunc(outputs, func(i int) bool { return masked[i] }) {
		return d, maskRead(rel, outputs, types, masked), nil
	}
	return d, nil, nil
}

// readOutputs returns, for each output column of the read, the index of the
// base schema field it carries.
func readOutputs(read *pb.ReadRel, n int) ([]int, error) {
	base := make([]int, 0, n)
	if items := read.GetProjection().GetSelect().GetStructItems(); len(items) > 0 {
		for _, it := range items {
			if int(it.GetField()) >= n {
				return nil, errOutOfRange(it.GetField())
			}
			base = append(base, int(it.GetField()))
		}
	} else {
		for i := 0; i < n; i++ {
			base = append(base, i)
		}
	}
	emit := read.GetCommon().GetEmit()
	if emit == nil {
		return base, nil
	}
	out := make([]int, 0, len(emit.GetOutputMapping()))
	for _, m := range emit.GetOutputMapping() {
		if int(m) >= len(base) {
			return nil, errOutOfRange(m)
		}
		out = append(out, base[m])
	}
	return out, nil
}

// maskRead wraps the read in a projection that passes every output column
// through except masked ones, which become typed NULLs. Output positions are
// unchanged so parent relations keep resolving.
func maskRead(rel *pb.Rel, outputs []int, types []*pb.Type, masked map[int]bool) *readMask {
	inner := &pb.Rel{RelType: rel.RelType}
	n := len(outputs)
	exprs := make([]*pb.Expression, n)
	mapping := make([]int32, n)
	positions := map[int]bool{}
	for pos, base := range outputs {
		if masked[base] {
			positions[pos] = true
			exprs[pos] = literal(&pb.Expression_Literal{
				Nullable:    true,
				LiteralType: &pb.Expression_Literal_Null{Null: plan.Nullable(types[base])},
			})
		} else {
			exprs[pos] = fieldReference(int32(pos))
		}
		mapping[pos] = int32(n + pos)
	}
	project := &pb.ProjectRel{
		Common: &pb.RelCommon{
			EmitKind: &pb.RelCommon_Emit_{Emit: &pb.RelCommon_Emit{OutputMapping: mapping}},
		},
		Input:       inner,
		Expressions: exprs,
	}
	rel.RelType = &pb.Rel_Project{Project: project}
	return &readMask{project: project, positions: positions}
}

// referencedFields returns the root-level field indices an expression reads,
// ignoring relations nested inside it.
func referencedFields(e *pb.Expression) []int {
	if e == nil {
		return nil
	}
	var out []int
	var walk func(m protoreflect.Message)
	walk = func(m protoreflect.Message) {
		switch x := m.Interface().(type) {
		case *pb.Rel:
			return
		case *pb.Expression_FieldReference:
			if x.GetRootReference() != nil {
				if sf := x.GetDirectReference().GetStructField(); sf != nil {
					out = append(out, int(sf.GetField()))
				}
			}
		}
		m.Range(func(fd protoreflect.FieldDescriptor, v protoreflect.Value) bool {
			switch {
			case fd.IsMap():
			case fd.IsList():
				if fd.Message() != nil {
					for i := 0; i < v.List().Len(); i++ {
						walk(v.List().Get(i).Message())
					}
				}
			case fd.Message() != nil:
				walk(v.Message())
			}
			return true
		})
	}
	walk(e.ProtoReflect())
	return out
}

func errOutOfRange(i int32) error { return fmt.Errorf("field %d out of range", i) }

func joinPath(table []string) string { return strings.Join(table, ".") }
