package command

import "testing"

func TestParseAndString(t *testing.T) {
	cases := map[string]string{
		"":                 "/",
		"/":                "/",
		"/nuc":             "/nuc",
		"/nuc/db/read":     "/nuc/db/read",
		"nuc/db/read":      "/nuc/db/read",
		"/nuc/db/read///":  "/nuc/db/read",
	}
	for in, want := range cases {
		got := Parse(in).String()
		if got != want {
			t.Errorf("Parse(%q).String() = %q, want %q", in, got, want)
		}
	}
}

func TestSegments(t *testing.T) {
	got := Parse("/nuc/db/read").Segments()
	want := []string{"nuc", "db", "read"}
	if len(got) != len(want) {
		t.Fatalf("Segments() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Segments()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestIsRevoke(t *testing.T) {
	if !Parse("/nuc/revoke").IsRevoke() {
		t.Error("expected /nuc/revoke to report IsRevoke")
	}
	if Parse("/nuc/db/read").IsRevoke() {
		t.Error("expected /nuc/db/read to not report IsRevoke")
	}
}

func TestEqual(t *testing.T) {
	if !Parse("/nuc/db/read").Equal(New("nuc", "db", "read")) {
		t.Error("expected equal commands built via Parse and New to compare equal")
	}
	if Parse("/nuc/db/read").Equal(Parse("/nuc/db/write")) {
		t.Error("expected different commands to compare unequal")
	}
	if Parse("/nuc/db").Equal(Parse("/nuc/db/read")) {
		t.Error("expected prefix and full command to compare unequal")
	}
}

// TestAttenuates exercises spec.md's attenuation law: a child command
// attenuates a parent iff the parent's segments are a prefix of the
// child's, and every command attenuates itself.
func TestAttenuates(t *testing.T) {
	tests := []struct {
		name   string
		child  string
		parent string
		want   bool
	}{
		{"identity", "/nuc/db/read", "/nuc/db/read", true},
		{"narrowing", "/nuc/db/read", "/nuc/db", true},
		{"root parent", "/nuc/db/read", "/", true},
		{"widening", "/nuc/db", "/nuc/db/read", false},
		{"sibling", "/nuc/db/write", "/nuc/db/read", false},
		{"unrelated", "/nuc/storage", "/nuc/db", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.child).Attenuates(Parse(tt.parent))
			if got != tt.want {
				t.Errorf("Parse(%q).Attenuates(Parse(%q)) = %v, want %v", tt.child, tt.parent, got, tt.want)
			}
		})
	}
}
