package apiclient

// Role describes the authorization role attached to a user.
type Role struct {
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// UserProfile is the identity record returned by GET /users/me.
type UserProfile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FullName    string `json:"full_name,omitempty"`
	IsActive    bool   `json:"is_active"`
	IsSuperuser bool   `json:"is_superuser"`
	Role        *Role  `json:"role,omitempty"`
}

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
	User         UserProfile `json:"user"`
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

// ProfileUpdate is the JSON body for PATCH /users/me. Nil fields are
// omitted and left unchanged by the server.
type ProfileUpdate struct {
	Email    *string `json:"email,omitempty"`
	FullName *string `json:"full_name,omitempty"`
}

// ErrorResponse is the generic error body returned by the backend.
type ErrorResponse struct {
	Error string `json:"error"`
	// Errors carries field-level validation messages on 422 responses.
	Errors map[string][]string `json:"errors,omitempty"`
}
