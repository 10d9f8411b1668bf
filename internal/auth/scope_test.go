package auth

import (
	"errors"
	"testing"
)

func TestCanAccessBuildings(t *testing.T) {
	active := &User{ID: "u", Status: StatusActive, BuildingIDs: []string{"b1", "b2"}}

	if err := CanAccessBuildings(active, nil, "b1"); err != nil {
		t.Fatalf("expected access to own building: %v", err)
	}
	if err := CanAccessBuildings(active, nil, "b1", "b3"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := CanAccessBuildings(active, []string{PermBuildingsInheritAll}, "b9"); err != nil {
		t.Fatalf("inherit_all should grant every building: %v", err)
	}

	disabled := &User{ID: "d", Status: StatusDisabled, BuildingIDs: []string{"b1"}}
	if err := CanAccessBuildings(disabled, []string{PermBuildingsInheritAll}, "b1"); !errors.Is(err, ErrUserInactive) {
		t.Fatalf("inactive user must be denied, got %v", err)
	}
	if ids, all := BuildingScope(disabled, []string{PermBuildingsInheritAll}); all || ids != nil {
		t.Fatalf("inactive user must have empty scope, got %v %v", ids, all)
	}
}
