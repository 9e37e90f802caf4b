package util

import (
	"strings"
	"testing"
)

func TestNewID(t *testing.T) {
	id := NewID("iss")
	if !strings.HasPrefix(id, "iss_") {
		t.Errorf("expected iss_ prefix, got %s", id)
	}
	if id == NewID("iss") {
		t.Error("two IDs should not collide")
	}
	if strings.Contains(NewID(""), "_") {
		t.Error("empty prefix should not add separator")
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Platform Team":      "platform-team",
		"  Core / Infra  ":   "core-infra",
		"ACME":               "acme",
		"team--42":           "team-42",
		"---":                "",
	}
	for in, want := range cases {
		if got := Slugify(in); got != want {
			t.Errorf("Slugify(%q) = %q, want %q", in, got, want)
		}
	}
}
