package member

import (
	"strings"
	"testing"
)

func TestInfoKnownMember(t *testing.T) {
	d := NewDirectory(map[string]Record{
		"123-555-1234": {Name: "John Doe", LastVisit: "2024-01-15", NextVisit: "2024-07-15"},
	})

	got := d.Info("123-555-1234")
	for _, want := range []string{"John Doe", "2024-01-15", "2024-07-15"} {
		if !strings.Contains(got, want) {
			t.Errorf("Info missing %q: %s", want, got)
		}
	}
}

func TestInfoUnknownMember(t *testing.T) {
	d := NewDirectory(nil)
	if got := d.Info("999-999-9999"); got != "" {
		t.Errorf("expected empty info for unknown member, got %q", got)
	}
}
