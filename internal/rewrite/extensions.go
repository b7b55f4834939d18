package rewrite

import (
	pb "github.com/substrait-io/substrait-protobuf/go/substraitpb"
	pbext "github.com/substrait-io/substrait-protobuf/go/substraitpb/extensions"
)

const (
	extensionURIComparison = "https://github.com/substrait-io/substrait/blob/main/extensions/functions_comparison.yaml"
	extensionURIBoolean    = "https://github.com/substrait-io/substrait/blob/main/extensions/functions_boolean.yaml"
)

// anchors hands out extension anchors above the ones already in the plan.
// URI and function anchors are separate namespaces.
type anchors struct {
	nextURI  uint32
	nextFunc uint32
}

func newAnchors(p *pb.Plan) *anchors {
	a := &anchors{nextURI: 1, nextFunc: 1}
	for _, u := range p.GetExtensionUris() {
		if u.GetExtensionUriAnchor() >= a.nextURI {
			a.nextURI = u.GetExtensionUriAnchor() + 1
		}
	}
	for _, ext := range p.GetExtensions() {
		if ef := ext.GetExtensionFunction(); ef != nil && ef.GetFunctionAnchor() >= a.nextFunc {
			a.nextFunc = ef.GetFunctionAnchor() + 1
		}
	}
	return a
}

// extensionURI finds an existing extension URI or registers it.
func (a *anchors) extensionURI(p *pb.Plan, uri string) uint32 {
	for _, u := range p.ExtensionUris {
		if u.Uri == uri {
			return u.ExtensionUriAnchor
		}
	}
	anchor := a.nextURI
	a.nextURI++
	p.ExtensionUris = append(p.ExtensionUris, &pbext.SimpleExtensionURI{
		ExtensionUriAnchor: anchor,
		Uri:                uri,
	})
	return anchor
}

// function finds a registered extension function or declares it.
func (a *anchors) function(p *pb.Plan, name string, uriRef uint32) uint32 {
	for _, ext := range p.Extensions {
		if ef := ext.GetExtensionFunction(); ef != nil {
			if ef.Name == name && ef.ExtensionUriReference == uriRef {
				return ef.FunctionAnchor
			}
		}
	}
	anchor := a.nextFunc
	a.nextFunc++
	p.Extensions = append(p.Extensions, &pbext.SimpleExtensionDeclaration{
		MappingType: &pbext.SimpleExtensionDeclaration_ExtensionFunction_{
			ExtensionFunction: &pbext.SimpleExtensionDeclaration_ExtensionFunction{
				ExtensionUriReference: uriRef,
				FunctionAnchor:        anchor,
				Name:                  name,
			},
		},
	})
	return anchor
}

// functionName returns the declared name for an anchor, or "".
func functionName(p *pb.Plan, anchor uint32) string {
	for _, ext := range p.GetExtensions() {
		if ef := ext.GetExtensionFunction(); ef != nil && ef.GetFunctionAnchor() == anchor {
			return ef.GetName()
		}
	}
	return ""
}

func scalarFunction(anchor uint32, out *pb.Type, args ...*pb.Expression) *pb.Expression {
	fargs := make([]*pb.FunctionArgument, len(args))
	for i, a := range args {
		fargs[i] = &pb.FunctionArgument{ArgType: &pb.FunctionArgument_Value{Value: a}}
	}
	return &pb.Expression{
		RexType: &pb.Expression_ScalarFunction_{
			ScalarFunction: &pb.Expression_ScalarFunction{
				FunctionReference: anchor,
				OutputType:        out,
				Arguments:         fargs,
			},
		},
	}
}

// fieldReference creates a direct reference to a field of the input record.
func fieldReference(fieldIdx int32) *pb.Expression {
	return &pb.Expression{
		RexType: &pb.Expression_Selection{
			Selection: &pb.Expression_FieldReference{
				ReferenceType: &pb.Expression_FieldReference_DirectReference{
					DirectReference: &pb.Expression_ReferenceSegment{
						ReferenceType: &pb.Expression_ReferenceSegment_StructField_{
							StructField: &pb.Expression_ReferenceSegment_StructField{
								Field: fieldIdx,
							},
						},
					},
				},
				RootType: &pb.Expression_FieldReference_RootReference_{
					RootReference: &pb.Expression_FieldReference_RootReference{},
				},
			},
		},
	}
}

func literal(lit *pb.Expression_Literal) *pb.Expression {
	return &pb.Expression{RexType: &pb.Expression_Literal_{Literal: lit}}
}
