package devserver

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/sangram0022/user-mn-go/internal/util"
)

// accessClaims are the claims carried by issued access tokens.
type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func newSigningKey() ([]byte, error) {
	key, err := util.RandomBytes(32)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	return key, nil
}

// issueAccessToken mints an HS256 JWT for the account.
func (s *Server) issueAccessToken(acct *account) (string, error) {
	now := s.now()
	claims := accessClaims{
		Email: acct.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   acct.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTokenTTL)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
}

// verifyAccessToken validates signature and expiry and returns the
// subject (user ID).
func (s *Server) verifyAccessToken(token string) (string, bool) {
	var claims accessClaims
	parsed, err := jwt.ParseWithClaims(token, &claims,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return s.signingKey, nil
		},
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}

// issueRefreshToken creates an opaque refresh token bound to the user.
// The token stays valid until logout or its own expiry: a silent
// refresh replaces only the access token.
func (s *Server) issueRefreshToken(userID string) string {
	token := uuid.NewString()
	s.mu.Lock()
	s.refreshTokens[token] = refreshSession{
		userID:    userID,
		expiresAt: s.now().Add(s.refreshTokenTTL),
	}
	s.mu.Unlock()
	return token
}

// consumeRefreshToken resolves a refresh token to its user without
// invalidating it. Expired entries are removed on sight.
func (s *Server) consumeRefreshToken(token string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.refreshTokens[token]
	if !ok {
		return "", false
	}
	if s.now().After(sess.expiresAt) {
		delete(s.refreshTokens, token)
		return "", false
	}
	return sess.userID, true
}

// revokeRefreshTokens drops every refresh token belonging to the user.
func (s *Server) revokeRefreshTokens(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, sess := range s.refreshTokens {
		if sess.userID == userID {
			delete(s.refreshTokens, token)
		}
	}
}

// issueCSRFToken mints a random CSRF token and remembers it until its
// expiry.
func (s *Server) issueCSRFToken() (string, time.Time, error) {
	raw, err := util.RandomBytes(16)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generating csrf token: %w", err)
	}
	token := util.HexEncode(raw)
	expiresAt := s.now().Add(s.csrfTokenTTL)

	s.mu.Lock()
	s.csrfTokens[token] = expiresAt
	// Opportunistic sweep; the map only grows while tokens are issued.
	for t, exp := range s.csrfTokens {
		if s.now().After(exp) {
			delete(s.csrfTokens, t)
		}
	}
	s.mu.Unlock()
	return token, expiresAt, nil
}

// validCSRFToken reports whether the token was issued here and is not
// yet expired.
func (s *Server) validCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	expiresAt, ok := s.csrfTokens[token]
	return ok && s.now().Before(expiresAt)
}
