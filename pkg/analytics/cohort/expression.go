package cohort

import (
	"context"
	"strings"

	"github.com/synaptica-ai/indicators/pkg/analytics/dsl"
	"github.com/synaptica-ai/indicators/pkg/common/errs"
	"github.com/synaptica-ai/indicators/pkg/common/models"
)

// Expression is a boolean tree over cohort definitions.
type Expression interface {
	String() string
	evaluate(ctx context.Context, s *Scope, b Binding) (models.Cohort, error)
}

// And intersects its children.
type And struct {
	Children []Expression
}

// Or unions its children.
type Or struct {
	Children []Expression
}

// Not is the scope's population minus its child.
type Not struct {
	Child Expression
}

// Leaf invokes a definition with a remapped binding.
type Leaf struct {
	Definition Definition
	Mapping    Mapping
}

func AllOf(children ...Expression) Expression { return And{Children: children} }

func AnyOf(children ...Expression) Expression { return Or{Children: children} }

func NoneOf(child Expression) Expression { return Not{Child: child} }

// Use wraps a definition in a leaf; the mapping may be nil.
func Use(def Definition, mapping Mapping) Expression { return Leaf{Definition: def, Mapping: mapping} }

func (n And) String() string  { return join(n.Children, " AND ") }
func (n Or) String() string   { return join(n.Children, " OR ") }
func (n Not) String() string  { return "NOT " + n.Child.String() }
func (n Leaf) String() string { return n.Definition.ID() }

func join(children []Expression, sep string) string {
	parts := make([]string, len(children))
	for i, child := range children {
		parts[i] = child.String()
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func (n And) evaluate(ctx context.Context, s *Scope, b Binding) (models.Cohort, error) {
	if len(n.Children) == 0 {
		return nil, errs.Invalid("cohort", "", "AND needs at least one operand")
	}
	var acc models.Cohort
	for i, child := range n.Children {
		c, err := child.evaluate(ctx, s, b)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			acc = c
		} else {
			acc = acc.Intersect(c)
		}
	}
	return acc, nil
}

func (n Or) evaluate(ctx context.Context, s *Scope, b Binding) (models.Cohort, error) {
	if len(n.Children) == 0 {
		return nil, errs.Invalid("cohort", "", "OR needs at least one operand")
	}
	acc := models.NewCohort()
	for _, child := range n.Children {
		c, err := child.evaluate(ctx, s, b)
		if err != nil {
			return nil, err
		}
		acc = acc.Union(c)
	}
	return acc, nil
}

func (n Not) evaluate(ctx context.Context, s *Scope, b Binding) (models.Cohort, error) {
	if s.population == nil {
		return nil, errs.Invalid("cohort", n.Child.String(), "NOT needs an explicit population")
	}
	c, err := n.Child.evaluate(ctx, s, b)
	if err != nil {
		return nil, err
	}
	return s.population.Difference(c), nil
}

func (n Leaf) evaluate(ctx context.Context, s *Scope, b Binding) (models.Cohort, error) {
	if n.Definition == nil {
		return nil, errs.Invalid("cohort", "", "leaf without a definition")
	}
	bound, err := n.Mapping.Resolve(n.Definition.ID(), n.Definition.Parameters(), b)
	if err != nil {
		return nil, err
	}
	return s.definition(ctx, n.Definition, bound)
}

// FromComposition turns a parsed composition into an expression over the
// named searches. Unknown names are a ConfigurationError.
func FromComposition(owner string, node dsl.Node, searches map[string]Expression) (Expression, error) {
	switch node.Op {
	case dsl.OpRef:
		expr, ok := searches[node.Name]
		if !ok {
			return nil, errs.Invalid("cohort", owner, "composition refers to unknown search %q", node.Name)
		}
		return expr, nil
	case dsl.OpNot:
		child, err := FromComposition(owner, node.Children[0], searches)
		if err != nil {
			return nil, err
		}
		return Not{Child: child}, nil
	case dsl.OpAnd, dsl.OpOr:
		children := make([]Expression, len(node.Children))
		for i, c := range node.Children {
			child, err := FromComposition(owner, c, searches)
			if err != nil {
				return nil, err
			}
			children[i] = child
		}
		if node.Op == dsl.OpAnd {
			return And{Children: children}, nil
		}
		return Or{Children: children}, nil
	default:
		return nil, errs.Invalid("cohort", owner, "unknown composition operator %q", node.Op)
	}
}
