package devserver

import (
	"context"
	"net/http"
	"net/mail"
	"strings"
	"time"
)

type contextKey int

const accountKey contextKey = iota

// csrfHeaderName matches the header the client SDK sends.
const csrfHeaderName = "X-CSRF-Token"

// Login handles POST /auth/login.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[LoginRequest](w, r)
	if !ok {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	email := normalizeEmail(req.Email)
	if blocked, retryAfter := s.limiter.check(email, s.now()); blocked {
		s.logger.Warn("login rate limited", "email", email)
		writeRateLimited(w, retryAfter)
		return
	}

	acct, ok := s.accounts.Authenticate(req.Email, req.Password)
	if !ok {
		s.limiter.recordFailure(email, s.now())
		s.metrics.loginFailures.Inc()
		s.logger.Info("login failed", "email", email)
		writeError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}
	s.limiter.recordSuccess(email)

	accessToken, err := s.issueAccessToken(acct)
	if err != nil {
		s.logger.Error("issuing access token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue tokens")
		return
	}
	refreshToken := s.issueRefreshToken(acct.ID)

	s.logger.Info("login succeeded", "user_id", acct.ID)
	writeJSON(w, http.StatusOK, LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.accessTokenTTL / time.Second),
		User:         userPayload(acct),
	})
}

// Refresh handles POST /auth/refresh. The refresh token is accepted in
// the body; it is not invalidated on use, only on logout or expiry.
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[RefreshRequest](w, r)
	if !ok {
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}

	userID, ok := s.consumeRefreshToken(req.RefreshToken)
	if !ok {
		writeError(w, http.StatusUnauthorized, "refresh token is invalid or expired")
		return
	}
	acct, ok := s.accounts.ByID(userID)
	if !ok || !acct.IsActive {
		writeError(w, http.StatusUnauthorized, "account is no longer active")
		return
	}

	accessToken, err := s.issueAccessToken(acct)
	if err != nil {
		s.logger.Error("issuing access token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue tokens")
		return
	}

	s.logger.Debug("token refreshed", "user_id", acct.ID)
	writeJSON(w, http.StatusOK, RefreshResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.accessTokenTTL / time.Second),
	})
}

// Logout handles POST /auth/logout. Revokes every refresh token the
// bearer holds.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	acct := accountFromContext(r.Context())
	s.revokeRefreshTokens(acct.ID)
	s.logger.Info("logged out", "user_id", acct.ID)
	writeJSON(w, http.StatusOK, struct{}{})
}

// CSRFToken handles GET /auth/csrf-token.
func (s *Server) CSRFToken(w http.ResponseWriter, r *http.Request) {
	token, expiresAt, err := s.issueCSRFToken()
	if err != nil {
		s.logger.Error("issuing csrf token", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to issue csrf token")
		return
	}
	writeJSON(w, http.StatusOK, CSRFTokenResponse{
		CSRFToken: token,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})
}

// Profile handles GET /users/me.
func (s *Server) Profile(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, userPayload(accountFromContext(r.Context())))
}

// UpdateProfile handles PATCH /users/me.
func (s *Server) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	acct := accountFromContext(r.Context())
	req, ok := decodeJSON[ProfileUpdateRequest](w, r)
	if !ok {
		return
	}

	fields := make(map[string][]string)
	if req.Email != nil {
		if _, err := mail.ParseAddress(*req.Email); err != nil {
			fields["email"] = append(fields["email"], "is not a valid email address")
		}
	}
	if req.FullName != nil && strings.TrimSpace(*req.FullName) == "" {
		fields["full_name"] = append(fields["full_name"], "must not be empty")
	}
	if len(fields) > 0 {
		writeValidationError(w, fields)
		return
	}

	updated, ok := s.accounts.Update(acct.ID, req.Email, req.FullName)
	if !ok {
		writeError(w, http.StatusNotFound, "account not found")
		return
	}
	s.logger.Info("profile updated", "user_id", acct.ID)
	writeJSON(w, http.StatusOK, userPayload(updated))
}

// authMiddleware validates the bearer token and stores the account on
// the request context.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		userID, ok := s.verifyAccessToken(token)
		if !ok {
			writeError(w, http.StatusUnauthorized, "access token is invalid or expired")
			return
		}
		acct, ok := s.accounts.ByID(userID)
		if !ok || !acct.IsActive {
			writeError(w, http.StatusUnauthorized, "account is no longer active")
			return
		}
		ctx := context.WithValue(r.Context(), accountKey, acct)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// csrfMiddleware rejects mutating requests that do not carry a CSRF
// token issued by this server.
func (s *Server) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.enforceCSRF {
			next.ServeHTTP(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if !s.validCSRFToken(r.Header.Get(csrfHeaderName)) {
			writeError(w, http.StatusForbidden, "missing or invalid CSRF token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func accountFromContext(ctx context.Context) *account {
	acct, _ := ctx.Value(accountKey).(*account)
	return acct
}
