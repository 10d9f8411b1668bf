package auth

import "fmt"

// PermBuildingsInheritAll grants every building without listing them.
const PermBuildingsInheritAll = "buildings:inherit_all"

// BuildingScope reports the buildings user may act on. all is true when the
// user's effective permissions include PermBuildingsInheritAll.
func BuildingScope(user *User, permissions []string) (buildingIDs []string, all bool) {
	if !user.Active() {
		return nil, false
	}
	for _, p := range permissions {
		if p == PermBuildingsInheritAll {
			return nil, true
		}
	}
	out := make([]string, len(user.BuildingIDs))
	copy(out, user.BuildingIDs)
	return out, false
}

// CanAccessBuildings fails unless every requested building is inside the user's scope.
// Inactive users never pass, whatever their permissions.
func CanAccessBuildings(user *User, permissions []string, requested ...string) error {
	if !user.Active() {
		return ErrUserInactive
	}
	allowed, all := BuildingScope(user, permissions)
	if all {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, id := range allowed {
		set[id] = struct{}{}
	}
	for _, id := range requested {
		if _, ok := set[id]; !ok {
			return fmt.Errorf("%w: building %s outside user scope", ErrForbidden, id)
		}
	}
	return nil
}
