// Package credstore provides tamper-resistant, per-process storage of the
// credential record: access token, refresh token, expiry, and a minimal
// identity snapshot. Every field is encrypted independently with
// AES-256-GCM under a key derived from a per-process random session key
// and a build-time seed, so blobs left behind by a previous process are
// permanently unreadable.
package credstore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/awnumar/memguard"

	"github.com/sangram0022/user-mn-go/internal/util"
	"github.com/sangram0022/user-mn-go/storage"
)

// Per-field storage keys. Field names double as AAD so a blob copied from
// one key to another fails authentication instead of decrypting.
const (
	keyAccessToken  = "access_token"
	keyRefreshToken = "refresh_token"
	keyIssuedAt     = "issued_at"
	keyExpiresAt    = "expires_at"
	keyUserID       = "user_id"
	keyUserEmail    = "user_email"
	keyUserRole     = "user_role"
)

var recordKeys = []string{
	keyAccessToken, keyRefreshToken, keyIssuedAt, keyExpiresAt,
	keyUserID, keyUserEmail, keyUserRole,
}

// ExpiryBuffer is subtracted from the stored expiry when deciding whether
// the access token is still usable, so a token is never handed out in its
// final seconds of validity.
const ExpiryBuffer = 60 * time.Second

const sessionKeyLen = 32

// Identity is the denormalized user snapshot stored beside the tokens.
// It exists for fast synchronous checks; the server remains the source
// of truth.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

// Store owns the credential record. All methods are safe for concurrent
// use. Read accessors never return errors: any storage or decryption
// failure degrades to "no credential available" and is logged.
type Store struct {
	mu    sync.Mutex
	blobs storage.Store
	seed  []byte

	// sessionKey is generated lazily on first write and discarded on
	// ClearTokens, which is what makes old ciphertexts unrecoverable.
	sessionKey *memguard.Enclave

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger for swallowed failures.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithSeed mixes a deployment-specific seed into the key derivation.
func WithSeed(seed []byte) Option {
	return func(s *Store) { s.seed = util.CopyBytes(seed) }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a credential Store over the given blob storage.
func New(blobs storage.Store, opts ...Option) *Store {
	s := &Store{
		blobs: blobs,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return s
}

// SetTokens overwrites the credential record in a single atomic batch.
// Identity fields may be empty; the corresponding accessors then report
// the field as absent.
func (s *Store) SetTokens(accessToken, refreshToken string, expiresIn time.Duration, id Identity) error {
	if accessToken == "" || refreshToken == "" {
		return errors.New("both access and refresh tokens are required")
	}
	if expiresIn <= 0 {
		return fmt.Errorf("expiresIn must be positive, got %s", expiresIn)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	issuedAt := s.now()
	expiresAt := issuedAt.Add(expiresIn)

	entries, err := s.sealRecord(map[string]string{
		keyAccessToken:  accessToken,
		keyRefreshToken: refreshToken,
		keyIssuedAt:     formatMillis(issuedAt),
		keyExpiresAt:    formatMillis(expiresAt),
		keyUserID:       id.UserID,
		keyUserEmail:    id.Email,
		keyUserRole:     id.Role,
	})
	if err != nil {
		return err
	}
	if err := s.blobs.PutAll(entries); err != nil {
		return fmt.Errorf("writing credential record: %w", err)
	}
	return nil
}

// UpdateAccessToken replaces only the access token and expiry, leaving the
// refresh token and identity snapshot untouched. Used after silent refresh.
func (s *Store) UpdateAccessToken(accessToken string, expiresIn time.Duration) error {
	if accessToken == "" {
		return errors.New("access token is required")
	}
	if expiresIn <= 0 {
		return fmt.Errorf("expiresIn must be positive, got %s", expiresIn)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	issuedAt := s.now()
	entries, err := s.sealRecord(map[string]string{
		keyAccessToken: accessToken,
		keyIssuedAt:    formatMillis(issuedAt),
		keyExpiresAt:   formatMillis(issuedAt.Add(expiresIn)),
	})
	if err != nil {
		return err
	}
	if err := s.blobs.PutAll(entries); err != nil {
		return fmt.Errorf("updating access token: %w", err)
	}
	return nil
}

// AccessToken returns the stored access token. A record whose expiry is
// within ExpiryBuffer of now (or unreadable) is cleared on the spot, so
// expiry is self-enforcing without any background timer.
func (s *Store) AccessToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.expiresAtLocked()
	if !ok {
		s.clearLocked()
		return "", false
	}
	if !s.now().Before(expiresAt.Add(-ExpiryBuffer)) {
		s.clearLocked()
		return "", false
	}
	return s.openField(keyAccessToken)
}

// ValidAccessToken returns the access token only while its expiry is
// outside ExpiryBuffer. Unlike AccessToken, an expired record is left
// intact: the refresh token stays retrievable, so the caller can still
// recover the session with a silent refresh. The expiry check and the
// token read happen under one lock, so the clock cannot cross the
// buffer between them.
func (s *Store) ValidAccessToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.expiresAtLocked()
	if !ok {
		return "", false
	}
	if !s.now().Before(expiresAt.Add(-ExpiryBuffer)) {
		return "", false
	}
	return s.openField(keyAccessToken)
}

// RefreshToken returns the stored refresh token, if retrievable.
func (s *Store) RefreshToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openField(keyRefreshToken)
}

// UserID returns the stored user ID, if present.
func (s *Store) UserID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openField(keyUserID)
}

// UserEmail returns the stored user email, if present.
func (s *Store) UserEmail() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openField(keyUserEmail)
}

// UserRole returns the stored user role, if present.
func (s *Store) UserRole() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.openField(keyUserRole)
}

// TokenExpired reports whether the record is absent or its expiry is
// within ExpiryBuffer of now.
func (s *Store) TokenExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.expiresAtLocked()
	if !ok {
		return true
	}
	return !s.now().Before(expiresAt.Add(-ExpiryBuffer))
}

// TimeUntilExpiry returns the remaining lifetime of the access token,
// not counting ExpiryBuffer. Zero when no usable record exists.
func (s *Store) TimeUntilExpiry() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.expiresAtLocked()
	if !ok {
		return 0
	}
	remaining := expiresAt.Add(-ExpiryBuffer).Sub(s.now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// HasTokens reports whether both tokens are present and decrypt cleanly.
func (s *Store) HasTokens() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.openField(keyAccessToken); !ok {
		return false
	}
	_, ok := s.openField(keyRefreshToken)
	return ok
}

// ClearTokens removes every field of the record and rotates the session
// key, making any stored ciphertext permanently unreadable even if the
// underlying storage retains remnants.
func (s *Store) ClearTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

func (s *Store) clearLocked() {
	if err := s.blobs.DeleteAll(); err != nil {
		s.logger.Warn("failed to clear credential record", "error", err)
	}
	s.sessionKey = nil
}

// sealRecord encrypts each field value under the derived key with the
// field name as AAD.
func (s *Store) sealRecord(fields map[string]string) (map[string][]byte, error) {
	key, err := s.encryptionKeyLocked()
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(key)

	entries := make(map[string][]byte, len(fields))
	for name, value := range fields {
		ct, err := util.EncryptAESWithAAD([]byte(value), key, []byte(name))
		if err != nil {
			return nil, fmt.Errorf("encrypting %s: %w", name, err)
		}
		entries[name] = ct
	}
	return entries, nil
}

// openField decrypts a single field. Absence, decryption failure, and
// empty values all report (_, false); decryption failure is additionally
// logged because it indicates corruption or foreign ciphertext.
func (s *Store) openField(name string) (string, bool) {
	blob, err := s.blobs.Get(name)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("failed to read credential field", "field", name, "error", err)
		}
		return "", false
	}
	if s.sessionKey == nil {
		// A blob exists but the key that sealed it is gone.
		return "", false
	}

	key, err := s.encryptionKeyLocked()
	if err != nil {
		s.logger.Warn("failed to derive credential key", "error", err)
		return "", false
	}
	defer util.WipeBytes(key)

	plain, err := util.DecryptAESWithAAD(blob, key, []byte(name))
	if err != nil {
		s.logger.Warn("failed to decrypt credential field", "field", name, "error", err)
		return "", false
	}
	if len(plain) == 0 {
		return "", false
	}
	return string(plain), true
}

func (s *Store) expiresAtLocked() (time.Time, bool) {
	raw, ok := s.openField(keyExpiresAt)
	if !ok {
		return time.Time{}, false
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.logger.Warn("corrupt expiry in credential record", "error", err)
		return time.Time{}, false
	}
	return time.UnixMilli(ms), true
}

// encryptionKeyLocked derives the record encryption key from the session
// key and the configured seed. The session key is generated once per
// process and cached inside a memguard enclave; losing it (process exit
// or ClearTokens) orphans every existing ciphertext.
func (s *Store) encryptionKeyLocked() ([]byte, error) {
	if s.sessionKey == nil {
		raw, err := util.RandomBytes(sessionKeyLen)
		if err != nil {
			return nil, fmt.Errorf("generating session key: %w", err)
		}
		// NewEnclave wipes raw after sealing it.
		s.sessionKey = memguard.NewEnclave(raw)
	}
	buf, err := s.sessionKey.Open()
	if err != nil {
		return nil, fmt.Errorf("opening session key enclave: %w", err)
	}
	defer buf.Destroy()

	info := append([]byte("user-mn credential record v1:"), s.seed...)
	return util.HKDF(buf.Bytes(), nil, info)
}

func formatMillis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
