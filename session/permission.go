package session

import "github.com/sangram0022/user-mn-go/apiclient"

// AdminRoleName is the reserved role name that implies every permission
// even when the role carries an empty permission list.
const AdminRoleName = "admin"

// HasPermission derives an authorization decision from a user snapshot.
// Pure and allocation-free: safe to call on every render.
//
// Order of precedence: superusers hold every permission; otherwise the
// role's permission list decides; otherwise the reserved admin role name
// decides; a nil user holds nothing.
func HasPermission(user *apiclient.UserProfile, permission string) bool {
	if user == nil {
		return false
	}
	if user.IsSuperuser {
		return true
	}
	if user.Role == nil {
		return false
	}
	for _, p := range user.Role.Permissions {
		if p == permission {
			return true
		}
	}
	return user.Role.Name == AdminRoleName
}
