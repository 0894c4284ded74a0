package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Operator compares a context field against a condition value.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpStartsWith  Operator = "starts_with"
	OpEndsWith    Operator = "ends_with"
	OpRegex       Operator = "regex"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpInSet       Operator = "in_set"
)

// Valid returns true when the operator is supported.
func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpContains, OpNotContains, OpStartsWith,
		OpEndsWith, OpRegex, OpGreaterThan, OpLessThan, OpInSet:
		return true
	default:
		return false
	}
}

// Condition is a single predicate over the event context. Conditions are
// validated when rules are loaded; an unparseable condition never matches.
type Condition struct {
	Field string   `json:"field"`
	Op    Operator `json:"op"`
	Value string   `json:"value"`

	re      *regexp.Regexp
	invalid bool
}

// ParseConditions decodes the stored condition list and validates each entry.
// Invalid entries are kept (marked as never-matching) and reported as warnings
// so one bad condition cannot take the rest of the rule down at runtime.
func ParseConditions(raw json.RawMessage) ([]Condition, []string) {
	if len(raw) == 0 {
		return nil, nil
	}
	var conds []Condition
	if err := json.Unmarshal(raw, &conds); err != nil {
		return nil, []string{fmt.Sprintf("conditions unreadable: %v", err)}
	}
	var warnings []string
	for i := range conds {
		conds[i].Op = Operator(strings.ToLower(strings.TrimSpace(string(conds[i].Op))))
		if !conds[i].Op.Valid() {
			conds[i].invalid = true
			warnings = append(warnings, fmt.Sprintf("condition %d: unknown operator %q", i, conds[i].Op))
			continue
		}
		if conds[i].Op == OpRegex {
			re, err := regexp.Compile("(?i)" + conds[i].Value)
			if err != nil {
				conds[i].invalid = true
				warnings = append(warnings, fmt.Sprintf("condition %d: invalid pattern %q", i, conds[i].Value))
				continue
			}
			conds[i].re = re
		}
	}
	return conds, warnings
}

// EvaluateConditions returns true iff every condition matches the context.
// An empty condition list always matches.
func EvaluateConditions(conds []Condition, ctx Context) bool {
	for _, cond := range conds {
		if !cond.Match(ctx) {
			return false
		}
	}
	return true
}

// Match evaluates one condition. It never panics: parse and pattern failures
// degrade to false.
func (c Condition) Match(ctx Context) bool {
	if c.invalid {
		return false
	}
	raw := ctx.Get(c.Field)
	field := strings.ToUpper(raw)
	value := strings.ToUpper(c.Value)

	switch c.Op {
	case OpEquals:
		return field == value
	case OpNotEquals:
		return field != value
	case OpContains:
		return strings.Contains(field, value)
	case OpNotContains:
		return !strings.Contains(field, value)
	case OpStartsWith:
		return strings.HasPrefix(field, value)
	case OpEndsWith:
		return strings.HasSuffix(field, value)
	case OpRegex:
		return c.re != nil && c.re.MatchString(raw)
	case OpGreaterThan, OpLessThan:
		left, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return false
		}
		right, err := strconv.ParseFloat(strings.TrimSpace(c.Value), 64)
		if err != nil {
			return false
		}
		if c.Op == OpGreaterThan {
			return left > right
		}
		return left < right
	case OpInSet:
		for _, candidate := range strings.Split(value, ",") {
			if field == strings.TrimSpace(candidate) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
