// Package selector implements the JSON-path-like selectors of spec.md §3/
// §4.3: a (target, path) pair resolved against either the invocation body
// or an external context object.
package selector

import (
	"regexp"
	"strings"

	"github.com/nucproto/nuc/nucerr"
)

// Target identifies which JSON document a Selector walks.
type Target int

const (
	// Token selects against the invocation's own body.
	Token Target = iota
	// Context selects against the external context object supplied to the
	// validator.
	Context
)

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+$`)

// Selector is a parsed (target, path) pair.
type Selector struct {
	target Target
	path   []string
}

// Target reports which document the selector walks.
func (s Selector) Target() Target { return s.target }

// Path returns the selector's path segments. The root selector has an empty
// path. The returned slice must not be mutated.
func (s Selector) Path() []string { return s.path }

// String renders the selector back to its wire syntax.
func (s Selector) String() string {
	prefix := "."
	if s.target == Context {
		prefix = "$."
	}
	if len(s.path) == 0 {
		if s.target == Context {
			return "$."
		}
		return "."
	}
	return prefix + strings.Join(s.path, ".")
}

// Parse parses a selector string per spec.md §4.3:
//   - must start with "." or "$.";
//   - after stripping the prefix, split on ".";
//   - empty segments fail with EmptyAttribute;
//   - each segment must match [A-Za-z0-9_\-]+, else InvalidAttributeChar.
func Parse(s string) (Selector, error) {
	var target Target
	var rest string

	switch {
	case strings.HasPrefix(s, "$."):
		target = Context
		rest = strings.TrimPrefix(s, "$.")
	case s == "$":
		return Selector{}, nucerr.Newf(nucerr.KindInvalidAttributeChar, "bare $ selector is not allowed: %q", s)
	case strings.HasPrefix(s, "."):
		target = Token
		rest = strings.TrimPrefix(s, ".")
	default:
		return Selector{}, nucerr.Newf(nucerr.KindInvalidAttributeChar, "selector must start with '.' or '$.': %q", s)
	}

	if rest == "" {
		return Selector{target: target}, nil
	}

	segments := strings.Split(rest, ".")
	for _, seg := range segments {
		if seg == "" {
			return Selector{}, nucerr.Newf(nucerr.KindEmptyAttribute, "empty selector segment in %q", s)
		}
		if !segmentPattern.MatchString(seg) {
			return Selector{}, nucerr.Newf(nucerr.KindInvalidAttributeChar, "invalid selector segment %q in %q", seg, s)
		}
	}
	return Selector{target: target, path: segments}, nil
}

// undefinedType is the type of the sentinel Apply returns for a selector that does
// not resolve: a missing key, or any intermediate value that is not an
// object (map[string]interface{}).
type undefinedType struct{}

// Undefined is returned by Apply when the selector does not resolve.
var Undefined = undefinedType{}

// IsUndefined reports whether v is the Undefined sentinel.
func IsUndefined(v interface{}) bool {
	_, ok := v.(undefinedType)
	return ok
}

// Apply walks doc (the decoded token body or external context, as
// map[string]interface{}) along the selector's path and returns the
// resolved value, or Undefined if any segment is missing or an
// intermediate value is not an object.
func (s Selector) Apply(doc map[string]interface{}) interface{} {
	if len(s.path) == 0 {
		return doc
	}
	var cur interface{} = doc
	for _, seg := range s.path {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return Undefined
		}
		v, ok := obj[seg]
		if !ok {
			return Undefined
		}
		cur = v
	}
	return cur
}
