// Package command implements NUC command paths and the attenuation law
// that governs how a delegation narrows authority for its children
// (spec.md §3, §4.9).
package command

import "strings"

// Revoke is the distinguished command exempt from attenuation (spec.md
// §4.10's "namespace jump exception").
const Revoke = "/nuc/revoke"

// Command is an ordered sequence of path segments parsed from a
// "/"-separated string. The empty command is "/".
type Command struct {
	segments []string
}

// Parse splits s on "/" into a Command. Leading/trailing slashes and the
// root "/" are all handled: "/" and "" both parse to the empty command.
func Parse(s string) Command {
	trimmed := strings.Trim(s, "/")
	if trimmed == "" {
		return Command{segments: nil}
	}
	return Command{segments: strings.Split(trimmed, "/")}
}

// New builds a Command directly from already-split segments.
func New(segments ...string) Command {
	if len(segments) == 0 {
		return Command{}
	}
	cp := make([]string, len(segments))
	copy(cp, segments)
	return Command{segments: cp}
}

// String renders the canonical "/"-prefixed form, "/" for the empty
// command.
func (c Command) String() string {
	if len(c.segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(c.segments, "/")
}

// Segments returns the command's path segments. The returned slice must not
// be mutated by callers.
func (c Command) Segments() []string { return c.segments }

// IsRevoke reports whether c is exactly the REVOKE command.
func (c Command) IsRevoke() bool { return c.String() == Revoke }

// Equal reports whether c and other have identical segments.
func (c Command) Equal(other Command) bool {
	if len(c.segments) != len(other.segments) {
		return false
	}
	for i, s := range c.segments {
		if s != other.segments[i] {
			return false
		}
	}
	return true
}

// Attenuates reports whether c is an attenuation of parent: parent's
// segments must be a prefix of c's segments. Attenuates(a, a) is true for
// any a (spec.md §8's attenuation law).
func (c Command) Attenuates(parent Command) bool {
	if len(parent.segments) > len(c.segments) {
		return false
	}
	for i, s := range parent.segments {
		if c.segments[i] != s {
			return false
		}
	}
	return true
}
