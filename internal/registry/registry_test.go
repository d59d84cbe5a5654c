package registry

import (
	"strings"
	"testing"
)

type testRule struct {
	id      string
	enabled bool
	group   string
}

func (r testRule) RuleID() string  { return r.id }
func (r testRule) IsEnabled() bool { return r.enabled }

func TestNewRejectsBadIDs(t *testing.T) {
	tests := []struct {
		name   string
		rules  []testRule
		errMsg string
	}{
		{
			name:   "empty id",
			rules:  []testRule{{id: "A", enabled: true}, {id: "", enabled: true}},
			errMsg: "index 1 has no id",
		},
		{
			name:   "duplicate id",
			rules:  []testRule{{id: "A", enabled: true}, {id: "A", enabled: false}},
			errMsg: `duplicate rule id "A"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.rules)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error = %q, want containing %q", err.Error(), tt.errMsg)
			}
		})
	}
}

func TestRegistryOrderAndFilter(t *testing.T) {
	reg, err := New([]testRule{
		{id: "C", enabled: true, group: "x"},
		{id: "A", enabled: false, group: "x"},
		{id: "B", enabled: true, group: "y"},
		{id: "D", enabled: true, group: "x"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if reg.Len() != 4 {
		t.Errorf("Len = %d, want 4", reg.Len())
	}

	got := ids(reg.ListEnabled())
	if got != "C,B,D" {
		t.Errorf("ListEnabled = %s, want C,B,D", got)
	}

	got = ids(reg.Filter(func(r testRule) bool { return r.group == "x" }))
	if got != "C,D" {
		t.Errorf("Filter(x) = %s, want C,D", got)
	}

	if r, ok := reg.ByID("A"); !ok || r.enabled {
		t.Errorf("ByID(A) = %+v, %v; want disabled rule", r, ok)
	}
	if _, ok := reg.ByID("Z"); ok {
		t.Error("ByID(Z) should not be found")
	}
}

func TestAllReturnsCopy(t *testing.T) {
	reg, _ := New([]testRule{{id: "A", enabled: true}})
	all := reg.All()
	all[0] = testRule{id: "mutated"}
	if r, _ := reg.ByID("A"); r.id != "A" {
		t.Error("registry was mutated through All()")
	}
}

func TestOverrideCooldown(t *testing.T) {
	empty := ""
	bad := "soon"
	hour := "1h"

	if _, set := (&Override{ID: "A"}).CooldownDuration(); set {
		t.Error("nil cooldown should not be set")
	}
	if d, set := (&Override{ID: "A", Cooldown: &empty}).CooldownDuration(); !set || d != 0 {
		t.Errorf("empty cooldown = %v, %v; want 0, true", d, set)
	}
	if d, set := (&Override{ID: "A", Cooldown: &hour}).CooldownDuration(); !set || d.Hours() != 1 {
		t.Errorf("1h cooldown = %v, %v", d, set)
	}
	if err := (&Override{ID: "A", Cooldown: &bad}).Validate(); err == nil {
		t.Error("expected invalid cooldown error")
	}

	known := func(id string) bool { return id == "A" }
	if err := CheckOverrides([]Override{{ID: "B"}}, known); err == nil {
		t.Error("expected unknown rule error")
	}
	if err := CheckOverrides([]Override{{ID: "A"}}, known); err != nil {
		t.Errorf("CheckOverrides: %v", err)
	}
}

func ids(rules []testRule) string {
	parts := make([]string, len(rules))
	for i, r := range rules {
		parts[i] = r.id
	}
	return strings.Join(parts, ",")
}
