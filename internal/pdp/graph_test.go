package pdp

import (
	"sort"
	"testing"

	"maintenix.io/internal/auth"
)

func sorted(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}

func TestClosureFollowsChildren(t *testing.T) {
	g := NewGraph([]auth.RoleEdge{
		{ParentID: "admin", ChildID: "manager"},
		{ParentID: "manager", ChildID: "viewer"},
		{ParentID: "auditor", ChildID: "viewer"},
	})
	got := g.Closure([]string{"admin"})
	want := []string{"admin", "manager", "viewer"}
	if len(got) != len(want) {
		t.Fatalf("closure = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("closure = %v, want %v", got, want)
		}
	}
}

func TestClosureTerminatesOnCycles(t *testing.T) {
	g := NewGraph([]auth.RoleEdge{
		{ParentID: "a", ChildID: "b"},
		{ParentID: "b", ChildID: "c"},
		{ParentID: "c", ChildID: "a"},
		{ParentID: "c", ChildID: "c"},
	})
	got := g.Closure([]string{"a"})
	if len(got) != 3 {
		t.Fatalf("expected 3 roles, got %v", got)
	}
}

func TestClosureIndependentOfStartOrder(t *testing.T) {
	g := NewGraph([]auth.RoleEdge{
		{ParentID: "a", ChildID: "b"},
		{ParentID: "x", ChildID: "y"},
		{ParentID: "y", ChildID: "b"},
	})
	left := sorted(g.Closure([]string{"a", "x"}))
	right := sorted(g.Closure([]string{"x", "a", "a", ""}))
	if len(left) != len(right) {
		t.Fatalf("closures differ: %v vs %v", left, right)
	}
	for i := range left {
		if left[i] != right[i] {
			t.Fatalf("closures differ: %v vs %v", left, right)
		}
	}
}

func TestClosureUnknownRole(t *testing.T) {
	got := NewGraph(nil).Closure([]string{"ghost"})
	if len(got) != 1 || got[0] != "ghost" {
		t.Fatalf("unexpected closure %v", got)
	}
}
