package session

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/netip"
	"sync"
	"time"
)

const (
	// DefaultTimeout is the idle timeout applied until an operator configures
	// a different one.
	DefaultTimeout = 30 * time.Minute

	// sweepInterval bounds how often the lazy expiry sweep may run, so a
	// burst of lookups does not pay the full-scan cost on every call.
	sweepInterval = time.Second
)

// LockReleaser releases cooperative locks held on behalf of a session. It is
// invoked inside the store's critical section so that lock release and
// session removal are observed as a single step.
type LockReleaser interface {
	Release(uniqueID string)
}

// Store is the authority over live sessions: it owns the canonical
// collection, the idle-timeout sweep, and the auth method configuration.
// One Store is constructed at startup and shared by reference with every
// consumer; it is never copied.
//
// A single mutex guards the session map, the sweep gate, and the
// configuration. Sweep-and-lookup must be one atomic step per caller, so
// finer-grained locking is deliberately not used.
//
// Lookups return copies taken under the lock, never the canonical records.
// Concurrent requests holding handles to the same logical session therefore
// cannot race a RefreshUser writing to it; they observe the state from the
// moment they authenticated.
type Store struct {
	mu sync.Mutex
	// sessions is keyed by the SHA-256 digest of the session token. Hashing
	// the presented token takes time independent of its contents, so the map
	// lookup cannot leak where a candidate token diverges from a stored one.
	sessions    map[[sha256.Size]byte]*UserSession
	timeout     time.Duration
	lastSweep   time.Time
	needWrite   bool
	authMethods AuthMethods

	locks           LockReleaser
	reloadTransport func()
	log             *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger. A JSON logger to stderr is used if
// unset.
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithLockReleaser wires the cooperative lock registry so that locks held by
// a session are released when the session is removed.
func WithLockReleaser(lr LockReleaser) Option {
	return func(s *Store) { s.locks = lr }
}

// WithTransportReload sets the callback fired when the mutual TLS toggle
// changes. The listening sockets must be recreated with the new client
// certificate policy; the store only signals, it never touches sockets.
func WithTransportReload(fn func()) Option {
	return func(s *Store) { s.reloadTransport = fn }
}

// WithTimeout sets the initial idle timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// NewStore creates the session store. One instance lives for the process
// lifetime.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:    make(map[[sha256.Size]byte]*UserSession),
		timeout:     DefaultTimeout,
		authMethods: DefaultAuthMethods(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

func tokenDigest(token string) [sha256.Size]byte {
	return sha256.Sum256([]byte(token))
}

// CreateSession authenticates having already happened, mints a new session
// for username. Token generation failure aborts the whole operation: the
// entropy source is degraded and retrying it risks weaker tokens.
//
// The dirty flag is raised only for Timeout persistence; SingleRequest
// sessions must never trigger a write to durable storage.
func (s *Store) CreateSession(username string, clientIP netip.Addr, clientID string, persistence Persistence, cookieAuth, isConfigureSelfOnly bool) (*UserSession, error) {
	token, err := GenerateToken(TokenSize)
	if err != nil {
		return nil, err
	}
	// CSRF tokens only matter for cookie auth, but generating one
	// unconditionally keeps every record uniformly valid.
	csrf, err := GenerateToken(TokenSize)
	if err != nil {
		return nil, err
	}
	uid, err := GenerateToken(UniqueIDSize)
	if err != nil {
		return nil, err
	}

	us := &UserSession{
		UniqueID:            uid,
		SessionToken:        token,
		CSRFToken:           csrf,
		Username:            username,
		ClientID:            clientID,
		ClientIP:            clientIP.String(),
		LastUpdated:         time.Now(),
		Persistence:         persistence,
		CookieAuth:          cookieAuth,
		IsConfigureSelfOnly: isConfigureSelfOnly,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	digest := tokenDigest(token)
	if _, exists := s.sessions[digest]; exists {
		return nil, ErrDuplicateID
	}
	for _, other := range s.sessions {
		if other.UniqueID == uid {
			return nil, ErrDuplicateID
		}
	}

	s.sessions[digest] = us
	if persistence == PersistTimeout {
		s.needWrite = true
	}
	return us.clone(), nil
}

// Restore inserts a session reconstructed from durable storage. It does not
// raise the dirty flag: restored state is by definition already persisted.
// A token or unique ID collision with a live session discards the restored
// record rather than overwriting.
func (s *Store) Restore(us *UserSession) {
	s.mu.Lock()
	defer s.mu.Unlock()

	digest := tokenDigest(us.SessionToken)
	if _, exists := s.sessions[digest]; exists {
		s.log.Error("restored session collides with a live session, discarding",
			"unique_id", us.UniqueID)
		return
	}
	for _, other := range s.sessions {
		if other.UniqueID == us.UniqueID {
			s.log.Error("restored session collides with a live session, discarding",
				"unique_id", us.UniqueID)
			return
		}
	}
	// The store keeps its own copy so the caller's record never aliases the
	// canonical one.
	s.sessions[digest] = us.clone()
}

// AuthenticateByToken looks up the session bound to the presented bearer
// token, refreshing its activity time on success. It returns a copy of the
// record, nil on any miss, and never distinguishes a wrong token from an
// absent one.
//
// The stored token is re-compared in constant time after the digest lookup;
// a length mismatch short-circuits without revealing anything beyond length.
func (s *Store) AuthenticateByToken(token string) *UserSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyTimeoutsLocked()

	if len(token) != TokenSize {
		return nil
	}
	us, ok := s.sessions[tokenDigest(token)]
	if !ok {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(us.SessionToken), []byte(token)) != 1 {
		return nil
	}
	us.LastUpdated = time.Now()
	return us.clone()
}

// FindByUniqueID returns a copy of the session with the given unique ID, or
// nil. This is a linear scan: it serves administrative and lock-cleanup
// flows only, never per-request authentication.
func (s *Store) FindByUniqueID(uid string) *UserSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyTimeoutsLocked()

	for _, us := range s.sessions {
		if us.UniqueID == uid {
			return us.clone()
		}
	}
	return nil
}

// RemoveSession removes the session and releases any cooperative locks it
// holds, as one step under the store lock. Removing an already-removed
// session is a no-op.
func (s *Store) RemoveSession(us *UserSession) {
	if us == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(tokenDigest(us.SessionToken))
}

// removeLocked must be called with s.mu held. The canonical record is looked
// up here so that callers holding only a copy still remove the right state.
func (s *Store) removeLocked(digest [sha256.Size]byte) {
	us, ok := s.sessions[digest]
	if !ok {
		return
	}
	if s.locks != nil {
		s.locks.Release(us.UniqueID)
	}
	delete(s.sessions, digest)
	// SingleRequest sessions were never part of the durable subset, so their
	// removal does not dirty it.
	if us.Persistence == PersistTimeout {
		s.needWrite = true
	}
}

// UniqueIDs returns a snapshot of unique IDs for every live session, or only
// those with the given persistence when all is false. The returned slice
// stays valid regardless of later store mutation.
func (s *Store) UniqueIDs(all bool, persistence Persistence) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyTimeoutsLocked()

	ids := make([]string, 0, len(s.sessions))
	for _, us := range s.sessions {
		if all || us.Persistence == persistence {
			ids = append(ids, us.UniqueID)
		}
	}
	return ids
}

// RemoveSessionsForUser revokes every session belonging to username, as on
// account deletion.
func (s *Store) RemoveSessionsForUser(username string) {
	s.removeForUser(username, "")
}

// RemoveSessionsForUserExcept revokes every session belonging to username
// except the one keep refers to, as on a password change performed over that
// session. keep is matched by unique ID, not handle identity, so any handle
// to the same logical session works.
func (s *Store) RemoveSessionsForUserExcept(username string, keep *UserSession) {
	keepUID := ""
	if keep != nil {
		keepUID = keep.UniqueID
	}
	s.removeForUser(username, keepUID)
}

func (s *Store) removeForUser(username, keepUID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for digest, us := range s.sessions {
		if us.Username != username {
			continue
		}
		if keepUID != "" && us.UniqueID == keepUID {
			continue
		}
		s.removeLocked(digest)
	}
}

// RefreshUser updates the fields an external authenticator re-verifies on
// each use, addressing the canonical record by unique ID. It returns a copy
// of the refreshed session, or nil when the session is gone. Copies handed
// out earlier keep their old values; requests observe the refresh when they
// next authenticate. Role and group membership are not part of the durable
// subset, so the dirty flag is left alone.
func (s *Store) RefreshUser(uid, role string, groups []string, isConfigureSelfOnly bool) *UserSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, us := range s.sessions {
		if us.UniqueID != uid {
			continue
		}
		us.UserRole = role
		us.UserGroups = groups
		us.IsConfigureSelfOnly = isConfigureSelfOnly
		return us.clone()
	}
	return nil
}

// UpdateAuthMethods replaces the auth method configuration. Toggling the
// mutual TLS flag fires the transport-reload callback, so the listeners get
// recreated with the new client certificate policy; other changes only mark
// state dirty.
func (s *Store) UpdateAuthMethods(cfg AuthMethods) {
	s.mu.Lock()
	tlsChanged := s.authMethods.TLS != cfg.TLS
	s.authMethods = cfg
	s.needWrite = true
	reload := s.reloadTransport
	s.mu.Unlock()

	if tlsChanged && reload != nil {
		reload()
	}
}

// AuthMethodsConfig returns the current auth method configuration.
func (s *Store) AuthMethodsConfig() AuthMethods {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authMethods
}

// SetTimeout updates the idle timeout applied by future sweeps. Existing
// sessions are not re-evaluated here; the effect is observed on the next
// sweep.
func (s *Store) SetTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = d
	s.needWrite = true
}

// Timeout returns the current idle timeout.
func (s *Store) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// NeedsWrite reports whether durable state has changed since the last
// MarkClean. The persistence adapter polls this; the store itself never
// performs I/O.
func (s *Store) NeedsWrite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needWrite
}

// MarkClean clears the dirty flag after the persistence adapter has flushed.
func (s *Store) MarkClean() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.needWrite = false
}

// PersistedSessions returns the durable form of every Timeout-persistence
// session. SingleRequest sessions never reach durable storage.
func (s *Store) PersistedSessions() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]map[string]any, 0, len(s.sessions))
	for _, us := range s.sessions {
		if us.Persistence != PersistTimeout {
			continue
		}
		docs = append(docs, us.Persisted())
	}
	return docs
}

// applyTimeoutsLocked removes idle-expired sessions. It runs at most once
// per sweepInterval so that lookup-heavy load does not pay a full scan per
// call. Comparisons use the monotonic readings carried by time.Time; wall
// clock jumps cannot shorten or extend a session. Must be called with s.mu
// held.
func (s *Store) applyTimeoutsLocked() {
	now := time.Now()
	if now.Sub(s.lastSweep) < sweepInterval {
		return
	}
	s.lastSweep = now

	for digest, us := range s.sessions {
		if now.Sub(us.LastUpdated) >= s.timeout {
			s.removeLocked(digest)
		}
	}
}
