package devserver

// LoginRequest is the JSON body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned from POST /auth/login.
type LoginResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    int64       `json:"expires_in"`
	User         UserPayload `json:"user"`
}

// RefreshRequest is the JSON body for POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse is returned from POST /auth/refresh.
type RefreshResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// CSRFTokenResponse is returned from GET /auth/csrf-token.
type CSRFTokenResponse struct {
	CSRFToken string `json:"csrf_token"`
	ExpiresAt string `json:"expires_at"`
}

// RolePayload describes a role on the wire.
type RolePayload struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// UserPayload describes a user profile on the wire.
type UserPayload struct {
	ID          string       `json:"id"`
	Email       string       `json:"email"`
	FullName    string       `json:"full_name"`
	IsActive    bool         `json:"is_active"`
	IsSuperuser bool         `json:"is_superuser"`
	Role        *RolePayload `json:"role,omitempty"`
}

// ProfileUpdateRequest is the JSON body for PATCH /users/me. Absent
// fields are left unchanged.
type ProfileUpdateRequest struct {
	Email    *string `json:"email,omitempty"`
	FullName *string `json:"full_name,omitempty"`
}

// ErrorResponse is returned for all error cases. Errors carries the
// per-field messages of a 422 validation failure.
type ErrorResponse struct {
	Error  string              `json:"error"`
	Errors map[string][]string `json:"errors,omitempty"`
}

func userPayload(acct *account) UserPayload {
	p := UserPayload{
		ID:          acct.ID,
		Email:       acct.Email,
		FullName:    acct.FullName,
		IsActive:    acct.IsActive,
		IsSuperuser: acct.IsSuperuser,
	}
	if acct.RoleName != "" {
		p.Role = &RolePayload{
			Name:        acct.RoleName,
			Permissions: append([]string(nil), acct.Permissions...),
		}
	}
	return p
}
