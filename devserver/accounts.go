package devserver

import (
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sangram0022/user-mn-go/internal/util"
)

// account is a stored user plus its password verifier. Passwords are
// NFKD-normalized before hashing so visually identical Unicode inputs
// verify consistently across platforms.
type account struct {
	ID          string
	Email       string
	FullName    string
	IsActive    bool
	IsSuperuser bool
	RoleName    string
	Permissions []string
	verifier    passwordVerifier
}

// passwordVerifier stores what is needed to check a password without
// keeping the password: a random salt and the argon2id-derived key.
type passwordVerifier struct {
	salt   []byte
	key    []byte
	params util.Argon2idParams
}

type accountStore struct {
	mu      sync.RWMutex
	byEmail map[string]*account
	byID    map[string]*account
}

func newAccountStore() *accountStore {
	return &accountStore{
		byEmail: make(map[string]*account),
		byID:    make(map[string]*account),
	}
}

// seedAccounts builds the fixed development accounts. The passwords are
// intentionally documented in the README; this server holds no real data.
func seedAccounts() (*accountStore, error) {
	store := newAccountStore()
	seeds := []struct {
		account  account
		password string
	}{
		{
			account: account{
				Email:       "admin@example.com",
				FullName:    "Ada Admin",
				IsActive:    true,
				IsSuperuser: false,
				RoleName:    "admin",
				Permissions: []string{"manage_users", "view_audit_log"},
			},
			password: "admin-password",
		},
		{
			account: account{
				Email:       "root@example.com",
				FullName:    "Root Operator",
				IsActive:    true,
				IsSuperuser: true,
				RoleName:    "operator",
				Permissions: nil,
			},
			password: "root-password",
		},
		{
			account: account{
				Email:       "user@example.com",
				FullName:    "Uma User",
				IsActive:    true,
				RoleName:    "member",
				Permissions: []string{"view_profile"},
			},
			password: "user-password",
		},
	}
	for _, seed := range seeds {
		if err := store.Add(seed.account, seed.password); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// Add hashes the password and stores the account. The ID is assigned
// here when empty.
func (s *accountStore) Add(acct account, password string) error {
	verifier, err := hashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password for %s: %w", acct.Email, err)
	}
	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	acct.verifier = verifier

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEmail[normalizeEmail(acct.Email)] = &acct
	s.byID[acct.ID] = &acct
	return nil
}

// Authenticate verifies email/password and returns the account.
func (s *accountStore) Authenticate(email, password string) (*account, bool) {
	s.mu.RLock()
	acct, ok := s.byEmail[normalizeEmail(email)]
	s.mu.RUnlock()
	if !ok || !acct.IsActive {
		return nil, false
	}
	match, err := util.CompareArgon2idKey(
		util.Normalize(password), acct.verifier.salt, acct.verifier.params, acct.verifier.key)
	if err != nil || !match {
		return nil, false
	}
	return acct.clone(), true
}

// ByID returns the account with the given ID.
func (s *accountStore) ByID(id string) (*account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return acct.clone(), true
}

// Update applies non-nil profile fields to the stored account.
func (s *accountStore) Update(id string, email, fullName *string) (*account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	if email != nil {
		delete(s.byEmail, normalizeEmail(acct.Email))
		acct.Email = *email
		s.byEmail[normalizeEmail(acct.Email)] = acct
	}
	if fullName != nil {
		acct.FullName = *fullName
	}
	return acct.clone(), true
}

func (a *account) clone() *account {
	cp := *a
	cp.Permissions = append([]string(nil), a.Permissions...)
	return &cp
}

func hashPassword(password string) (passwordVerifier, error) {
	salt, err := util.RandomBytes(16)
	if err != nil {
		return passwordVerifier{}, err
	}
	params := util.DefaultArgon2idParams()
	key, err := util.DeriveArgon2idKey(util.Normalize(password), salt, params)
	if err != nil {
		return passwordVerifier{}, err
	}
	return passwordVerifier{salt: salt, key: key, params: params}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
