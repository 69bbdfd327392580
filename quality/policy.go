package quality

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// Rule overrides the default threshold when its CEL condition holds. The
// condition sees cde (bool), domain (string) and dimension (string).
// An empty Dimension applies the rule to every dimension.
type Rule struct {
	When      string `yaml:"when" json:"when"`
	Dimension string `yaml:"dimension,omitempty" json:"dimension,omitempty"`
	Value     string `yaml:"value" json:"value"`
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// Policy supplies default thresholds. Rules are tried in order; the first
// match wins, otherwise the fixed table applies.
type Policy struct {
	rules []compiledRule
}

// NewPolicy compiles the rules.
func NewPolicy(rules []Rule) (*Policy, error) {
	p := &Policy{}
	if len(rules) == 0 {
		return p, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("cde", cel.BoolType),
		cel.Variable("domain", cel.StringType),
		cel.Variable("dimension", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	for i, r := range rules {
		ast, issues := env.Compile(r.When)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("rule %d: compile %q: %w", i, r.When, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("rule %d: %q must evaluate to bool", i, r.When)
		}
		prg, err := env.Program(ast, cel.CostLimit(1000))
		if err != nil {
			return nil, fmt.Errorf("rule %d: program: %w", i, err)
		}
		p.rules = append(p.rules, compiledRule{Rule: r, prg: prg})
	}
	return p, nil
}

// Default returns the default threshold for a dimension.
func (p *Policy) Default(isCDE bool, domain, dimension string) string {
	if p != nil {
		input := map[string]any{"cde": isCDE, "domain": domain, "dimension": dimension}
		for _, r := range p.rules {
			if r.Dimension != "" && r.Dimension != dimension {
				continue
			}
			out, _, err := r.prg.Eval(input)
			if err != nil {
				continue
			}
			if ok, isBool := out.Value().(bool); isBool && ok {
				return r.Value
			}
		}
	}
	return tableDefault(isCDE, dimension)
}

func tableDefault(isCDE bool, dimension string) string {
	switch dimension {
	case DimCompleteness:
		if isCDE {
			return "≥ 99.5%"
		}
		return "≥ 95%"
	case DimAccuracy:
		return "Reconcile GL ± 0.1%"
	case DimTimeliness:
		return "T+1"
	case DimConsistency:
		return "Cross-domain identical"
	default:
		return "Domain rules apply"
	}
}
