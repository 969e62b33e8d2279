// Package accounts verifies management-controller user credentials. It plays
// the role of the platform account authority: the session layer consumes only
// its Verify result (role, group membership, password-expired state) and
// never stores secrets itself.
package accounts

import (
	"crypto/subtle"
	"errors"
	"sync"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"

	"github.com/jmcleod/ironbmc/internal/util"
)

var (
	// ErrInvalidCredentials covers both unknown users and wrong passwords;
	// callers must not be able to distinguish the two.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrAccountExists indicates the username is already registered.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountNotFound indicates no such account is registered.
	ErrAccountNotFound = errors.New("account not found")
)

// argon2id parameters for password hashing.
const (
	hashTime        = 1
	hashMemoryKiB   = 64 * 1024
	hashParallelism = 4
	hashLen         = 32
	saltLen         = 16
)

// Account is the verified identity handed to the session layer.
type Account struct {
	Username string
	Role     string
	Groups   []string
	// PasswordExpired makes any session created for this account
	// configure-self-only until the password is changed.
	PasswordExpired bool
}

type record struct {
	salt   []byte
	hash   []byte
	role   string
	groups []string
	// mustChange flags an operator-provisioned or expired password.
	mustChange bool
}

// Registry is an in-process account registry with argon2id-hashed passwords.
// Safe for concurrent use.
type Registry struct {
	mu    sync.Mutex
	users map[string]*record
}

// NewRegistry creates an empty account registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[string]*record)}
}

func hashPassword(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, hashTime, hashMemoryKiB, hashParallelism, hashLen)
}

// Create registers an account. The password buffer is consumed: it is wiped
// and destroyed whether or not registration succeeds.
func (r *Registry) Create(username string, password *memguard.LockedBuffer, role string, groups []string, mustChange bool) error {
	defer password.Destroy()
	username = util.Normalize(username)

	salt, err := util.RandomBytes(saltLen)
	if err != nil {
		return err
	}
	hash := hashPassword(password.Bytes(), salt)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.users[username]; exists {
		return ErrAccountExists
	}
	r.users[username] = &record{
		salt:       salt,
		hash:       hash,
		role:       role,
		groups:     append([]string(nil), groups...),
		mustChange: mustChange,
	}
	return nil
}

// Verify checks a username/password pair. The password buffer is consumed.
// The hash comparison is constant-time; the error never reveals whether the
// username exists.
func (r *Registry) Verify(username string, password *memguard.LockedBuffer) (Account, error) {
	defer password.Destroy()
	username = util.Normalize(username)

	r.mu.Lock()
	rec, ok := r.users[username]
	r.mu.Unlock()
	if !ok {
		// Burn the same hashing cost as a real verification so unknown
		// usernames are not observable through response timing.
		hashPassword(password.Bytes(), make([]byte, saltLen))
		return Account{}, ErrInvalidCredentials
	}

	candidate := hashPassword(password.Bytes(), rec.salt)
	defer util.WipeBytes(candidate)
	if subtle.ConstantTimeCompare(candidate, rec.hash) != 1 {
		return Account{}, ErrInvalidCredentials
	}

	return Account{
		Username:        username,
		Role:            rec.role,
		Groups:          append([]string(nil), rec.groups...),
		PasswordExpired: rec.mustChange,
	}, nil
}

// SetPassword replaces the account's password and clears the must-change
// flag. The password buffer is consumed.
func (r *Registry) SetPassword(username string, password *memguard.LockedBuffer) error {
	defer password.Destroy()
	username = util.Normalize(username)

	salt, err := util.RandomBytes(saltLen)
	if err != nil {
		return err
	}
	hash := hashPassword(password.Bytes(), salt)

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.users[username]
	if !ok {
		return ErrAccountNotFound
	}
	util.WipeBytes(rec.hash)
	rec.salt = salt
	rec.hash = hash
	rec.mustChange = false
	return nil
}

// Delete removes an account. The caller is responsible for revoking the
// account's sessions.
func (r *Registry) Delete(username string) error {
	username = util.Normalize(username)

	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.users[username]
	if !ok {
		return ErrAccountNotFound
	}
	util.WipeBytes(rec.hash)
	delete(r.users, username)
	return nil
}
