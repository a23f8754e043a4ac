// Package policy implements the S-expression policy DSL of spec.md §3/§4.4:
// a small boolean-expression tree over selectors, evaluated against an
// invocation's arguments and an external context.
package policy

import (
	"encoding/json"
	"reflect"

	"github.com/nucproto/nuc/nucerr"
	"github.com/nucproto/nuc/selector"
)

// Op identifies a Policy node's operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpAnyOf
	OpAnd
	OpOr
	OpNot
)

// Policy is the sealed sum type described in spec.md §9: Eq/Ne/AnyOf are
// leaves carrying a selector and comparison value(s); And/Or/Not are
// connectors carrying child policies.
type Policy struct {
	op       Op
	sel      selector.Selector
	value    interface{}   // OpEq, OpNe
	values   []interface{} // OpAnyOf
	children []Policy      // OpAnd, OpOr, OpNot (exactly one child)
}

// Eq builds an Eq(sel, value) policy.
func Eq(sel selector.Selector, value interface{}) Policy {
	return Policy{op: OpEq, sel: sel, value: value}
}

// Ne builds a Ne(sel, value) policy.
func Ne(sel selector.Selector, value interface{}) Policy {
	return Policy{op: OpNe, sel: sel, value: value}
}

// AnyOf builds an AnyOf(sel, values) policy.
func AnyOf(sel selector.Selector, values []interface{}) Policy {
	return Policy{op: OpAnyOf, sel: sel, values: values}
}

// And builds an And(children) connector.
func And(children []Policy) Policy {
	return Policy{op: OpAnd, children: children}
}

// Or builds an Or(children) connector.
func Or(children []Policy) Policy {
	return Policy{op: OpOr, children: children}
}

// Not builds a Not(child) connector.
func Not(child Policy) Policy {
	return Policy{op: OpNot, children: []Policy{child}}
}

// Op reports the policy node's operator.
func (p Policy) Op() Op { return p.op }

// List is an ordered sequence of top-level policies combined by implicit
// AND. An empty List is trivially true.
type List []Policy

// Eval evaluates every policy in the list against body/context, short-
// circuiting on the first false (spec.md §4.4: "Empty list trivially
// true").
func (l List) Eval(body, context map[string]interface{}) bool {
	for _, p := range l {
		if !p.Eval(body, context) {
			return false
		}
	}
	return true
}

// Eval evaluates a single Policy node against body/context.
func (p Policy) Eval(body, context map[string]interface{}) bool {
	switch p.op {
	case OpEq:
		return deepEqual(resolve(p.sel, body, context), p.value)
	case OpNe:
		return !deepEqual(resolve(p.sel, body, context), p.value)
	case OpAnyOf:
		resolved := resolve(p.sel, body, context)
		for _, v := range p.values {
			if deepEqual(resolved, v) {
				return true
			}
		}
		return false
	case OpAnd:
		for _, c := range p.children {
			if !c.Eval(body, context) {
				return false
			}
		}
		return true
	case OpOr:
		for _, c := range p.children {
			if c.Eval(body, context) {
				return true
			}
		}
		return false
	case OpNot:
		return !p.children[0].Eval(body, context)
	default:
		return false
	}
}

func resolve(sel selector.Selector, body, context map[string]interface{}) interface{} {
	doc := body
	if sel.Target() == selector.Context {
		doc = context
	}
	return sel.Apply(doc)
}

// deepEqual implements spec.md §4.4's structural deep-equality: an
// undefined left side never equals a defined right side and always
// differs; otherwise compare by JSON semantics (numbers by value, objects
// by key-set + recursive equality, arrays positionally). json.Unmarshal
// into interface{} already normalizes numbers to float64 and objects to
// map[string]interface{}, so reflect.DeepEqual over the decoded trees
// implements exactly this.
func deepEqual(resolved, literal interface{}) bool {
	if selector.IsUndefined(resolved) {
		return false
	}
	return reflect.DeepEqual(normalize(resolved), normalize(literal))
}

// normalize round-trips a value that may have come from Go literals (e.g.
// int, float64 already) through the same JSON number representation used
// by decoded selector values, so that Eq(sel, 42) compares equal to a
// resolved float64(42) the same way a round-tripped JSON document would.
func normalize(v interface{}) interface{} {
	switch v.(type) {
	case float64, string, bool, nil, map[string]interface{}, []interface{}:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return v
		}
		var out interface{}
		if err := json.Unmarshal(b, &out); err != nil {
			return v
		}
		return out
	}
}

// Depth computes the tree depth per spec.md §4.4: 1 for a leaf operator;
// for a connector, 1 + max(child depth).
func (p Policy) Depth() int {
	switch p.op {
	case OpEq, OpNe, OpAnyOf:
		return 1
	default:
		max := 0
		for _, c := range p.children {
			if d := c.Depth(); d > max {
				max = d
			}
		}
		return 1 + max
	}
}

// Width computes the immediate-children count per spec.md §4.4: 1 for Not,
// N for And/Or, rolled up as the max over the whole tree.
func (p Policy) Width() int {
	max := p.immediateWidth()
	for _, c := range p.children {
		if w := c.Width(); w > max {
			max = w
		}
	}
	return max
}

func (p Policy) immediateWidth() int {
	switch p.op {
	case OpEq, OpNe, OpAnyOf:
		return 0
	default:
		return len(p.children)
	}
}

// Depth returns the implicit-AND list's depth: the max over its policies.
// The list itself adds no level of depth; an empty list has depth 0.
func (l List) Depth() int {
	max := 0
	for _, p := range l {
		if d := p.Depth(); d > max {
			max = d
		}
	}
	return max
}

// Width returns the implicit-AND list's width: the list length rolled up
// against the max width found in any child (spec.md §4.4: "for implicit-AND
// list, the list length").
func (l List) Width() int {
	max := len(l)
	for _, p := range l {
		if w := p.Width(); w > max {
			max = w
		}
	}
	return max
}

// --- JSON parsing (spec.md §4.4 grammar) ---

// ParseList parses a top-level JSON array of rules. Multiple rules combine
// by implicit AND.
func ParseList(raw json.RawMessage) (List, error) {
	var rules []json.RawMessage
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, nucerr.Wrap(nucerr.KindInvalidPolicy, "policy list must be a JSON array", err)
	}
	out := make(List, 0, len(rules))
	for _, r := range rules {
		p, err := parseOne(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func parseOne(raw json.RawMessage) (Policy, error) {
	var tuple []json.RawMessage
	if err := json.Unmarshal(raw, &tuple); err != nil {
		return Policy{}, nucerr.Wrap(nucerr.KindInvalidPolicy, "policy rule must be a JSON array", err)
	}
	if len(tuple) == 0 {
		return Policy{}, nucerr.New(nucerr.KindInvalidPolicy, "empty policy rule")
	}
	var name string
	if err := json.Unmarshal(tuple[0], &name); err != nil {
		return Policy{}, nucerr.Wrap(nucerr.KindInvalidPolicy, "policy operator must be a string", err)
	}

	switch name {
	case "==", "!=":
		if len(tuple) != 3 {
			return Policy{}, nucerr.Newf(nucerr.KindInvalidPolicy, "%q requires [op, selector, value]", name)
		}
		sel, err := parseSelector(tuple[1])
		if err != nil {
			return Policy{}, err
		}
		var value interface{}
		if err := json.Unmarshal(tuple[2], &value); err != nil {
			return Policy{}, nucerr.Wrap(nucerr.KindInvalidPolicy, "invalid comparison value", err)
		}
		if name == "==" {
			return Eq(sel, value), nil
		}
		return Ne(sel, value), nil

	case "anyOf":
		if len(tuple) != 3 {
			return Policy{}, nucerr.New(nucerr.KindInvalidPolicy, "anyOf requires [op, selector, [values...]]")
		}
		sel, err := parseSelector(tuple[1])
		if err != nil {
			return Policy{}, err
		}
		var values []interface{}
		if err := json.Unmarshal(tuple[2], &values); err != nil {
			return Policy{}, nucerr.Wrap(nucerr.KindInvalidPolicy, "anyOf options must be a JSON array", err)
		}
		return AnyOf(sel, values), nil

	case "and", "or":
		if len(tuple) != 2 {
			return Policy{}, nucerr.Newf(nucerr.KindInvalidPolicy, "%q requires [op, [policy...]]", name)
		}
		var rawChildren []json.RawMessage
		if err := json.Unmarshal(tuple[1], &rawChildren); err != nil {
			return Policy{}, nucerr.Wrap(nucerr.KindInvalidPolicy, "connector children must be a JSON array", err)
		}
		if len(rawChildren) == 0 {
			return Policy{}, nucerr.Newf(nucerr.KindInvalidPolicy, "%q must have a non-empty child array", name)
		}
		children := make([]Policy, 0, len(rawChildren))
		for _, rc := range rawChildren {
			c, err := parseOne(rc)
			if err != nil {
				return Policy{}, err
			}
			children = append(children, c)
		}
		if name == "and" {
			return And(children), nil
		}
		return Or(children), nil

	case "not":
		if len(tuple) != 2 {
			return Policy{}, nucerr.New(nucerr.KindInvalidPolicy, "not requires [op, policy]")
		}
		child, err := parseOne(tuple[1])
		if err != nil {
			return Policy{}, err
		}
		return Not(child), nil

	default:
		return Policy{}, nucerr.Newf(nucerr.KindInvalidPolicy, "unknown policy operator %q", name)
	}
}

// MarshalJSON renders the list back to its wire grammar: a JSON array of
// rules, each `[op, ...]`.
func (l List) MarshalJSON() ([]byte, error) {
	rules := make([]interface{}, len(l))
	for i, p := range l {
		r, err := p.toJSON()
		if err != nil {
			return nil, err
		}
		rules[i] = r
	}
	return json.Marshal(rules)
}

// toJSON renders a single Policy node to its `[op, ...]` wire form.
func (p Policy) toJSON() (interface{}, error) {
	switch p.op {
	case OpEq:
		return []interface{}{"==", p.sel.String(), p.value}, nil
	case OpNe:
		return []interface{}{"!=", p.sel.String(), p.value}, nil
	case OpAnyOf:
		return []interface{}{"anyOf", p.sel.String(), p.values}, nil
	case OpAnd, OpOr:
		children := make([]interface{}, len(p.children))
		for i, c := range p.children {
			r, err := c.toJSON()
			if err != nil {
				return nil, err
			}
			children[i] = r
		}
		name := "and"
		if p.op == OpOr {
			name = "or"
		}
		return []interface{}{name, children}, nil
	case OpNot:
		child, err := p.children[0].toJSON()
		if err != nil {
			return nil, err
		}
		return []interface{}{"not", child}, nil
	default:
		return nil, nucerr.Newf(nucerr.KindInvalidPolicy, "unknown policy op %v", p.op)
	}
}

func parseSelector(raw json.RawMessage) (selector.Selector, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return selector.Selector{}, nucerr.Wrap(nucerr.KindInvalidPolicy, "selector must be a string", err)
	}
	sel, err := selector.Parse(s)
	if err != nil {
		return selector.Selector{}, err
	}
	return sel, nil
}
