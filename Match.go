package acebase

import (
	"fmt"
	"regexp"
	"strings"
)

// Operator is one comparison kind usable in a Criterion.
type Operator string

const (
	OpLessThan        Operator = "<"
	OpLessOrEqual     Operator = "<="
	OpEqual           Operator = "=="
	OpNotEqual        Operator = "!="
	OpGreaterThan     Operator = ">"
	OpGreaterOrEqual  Operator = ">="
	OpIn              Operator = "in"
	OpNotIn           Operator = "!in"
	OpMatches         Operator = "matches"
	OpNotMatches      Operator = "!matches"
	OpBetween         Operator = "between"
	OpNotBetween      Operator = "!between"
	OpHas             Operator = "has"
	OpNotHas          Operator = "!has"
	OpContains        Operator = "contains"
	OpNotContains     Operator = "!contains"
	OpExists          Operator = "exists"
	OpNotExists       Operator = "!exists"
	OpCustom          Operator = "custom"
)

// Criterion is one clause of a matches() filter: "key <op> value".
type Criterion struct {
	Key      string
	Op       Operator
	Value    any
	Custom   func(value any) bool
}

// matches reports whether every criterion holds against children (a flat
// key -> value map, as produced by getChildren/getValue of the candidate
// node). All criteria are ANDed, matching spec.md's matches(path,
// criteria[]) as a conjunctive filter.
func matches(children map[string]any, criteria []Criterion) (bool, error) {
	for _, c := range criteria {
		ok, err := matchesOne(children, c)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func matchesOne(children map[string]any, c Criterion) (bool, error) {
	value, exists := children[c.Key]

	switch c.Op {
	case OpExists:
		return exists, nil
	case OpNotExists:
		return !exists, nil
	case OpCustom:
		if c.Custom == nil {
			return false, &UnsupportedValueError{Reason: "custom criterion without a function"}
		}
		return c.Custom(value), nil
	}

	if !exists {
		// every remaining operator is meaningless against an absent key
		return false, nil
	}

	switch c.Op {
	case OpEqual:
		return compareEqual(value, c.Value), nil
	case OpNotEqual:
		return !compareEqual(value, c.Value), nil
	case OpLessThan:
		cmp, err := compareOrdered(value, c.Value)
		return err == nil && cmp < 0, err
	case OpLessOrEqual:
		cmp, err := compareOrdered(value, c.Value)
		return err == nil && cmp <= 0, err
	case OpGreaterThan:
		cmp, err := compareOrdered(value, c.Value)
		return err == nil && cmp > 0, err
	case OpGreaterOrEqual:
		cmp, err := compareOrdered(value, c.Value)
		return err == nil && cmp >= 0, err
	case OpIn:
		return inSet(value, c.Value), nil
	case OpNotIn:
		return !inSet(value, c.Value), nil
	case OpBetween:
		return between(value, c.Value)
	case OpNotBetween:
		ok, err := between(value, c.Value)
		return !ok, err
	case OpMatches:
		return regexMatch(value, c.Value)
	case OpNotMatches:
		ok, err := regexMatch(value, c.Value)
		return !ok, err
	case OpHas:
		return hasKey(value, c.Value), nil
	case OpNotHas:
		return !hasKey(value, c.Value), nil
	case OpContains:
		return containsValue(value, c.Value), nil
	case OpNotContains:
		return !containsValue(value, c.Value), nil
	default:
		return false, &UnsupportedValueError{Reason: fmt.Sprintf("unknown operator %q", c.Op)}
	}
}

func compareEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	return a == b
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

func compareOrdered(a, b any) (int, error) {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1, nil
			case af > bf:
				return 1, nil
			default:
				return 0, nil
			}
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), nil
	}
	return 0, &UnsupportedValueError{Reason: "values not ordered-comparable"}
}

func inSet(value any, set any) bool {
	list, ok := set.([]any)
	if !ok {
		return false
	}
	for _, v := range list {
		if compareEqual(value, v) {
			return true
		}
	}
	return false
}

func between(value any, bounds any) (bool, error) {
	pair, ok := bounds.([2]any)
	if !ok {
		return false, &UnsupportedValueError{Reason: "between requires a [2]any bound pair"}
	}
	lo, err := compareOrdered(value, pair[0])
	if err != nil {
		return false, err
	}
	hi, err := compareOrdered(value, pair[1])
	if err != nil {
		return false, err
	}
	return lo >= 0 && hi <= 0, nil
}

func regexMatch(value any, pattern any) (bool, error) {
	s, ok := value.(string)
	if !ok {
		return false, nil
	}
	p, ok := pattern.(string)
	if !ok {
		return false, &UnsupportedValueError{Reason: "matches requires a string pattern"}
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return false, &UnsupportedValueError{Reason: "invalid regular expression: " + err.Error()}
	}
	return re.MatchString(s), nil
}

func hasKey(value any, key any) bool {
	m, ok := value.(map[string]any)
	if !ok {
		return false
	}
	k, ok := key.(string)
	if !ok {
		return false
	}
	_, exists := m[k]
	return exists
}

func containsValue(value any, needle any) bool {
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			if compareEqual(item, needle) {
				return true
			}
		}
		return false
	case string:
		s, ok := needle.(string)
		return ok && strings.Contains(v, s)
	default:
		return false
	}
}
