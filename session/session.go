// Package session implements the session management core of the management
// controller: token generation, the authoritative session store, idle-timeout
// sweeping, and reconstruction of sessions from durable storage.
package session

import (
	"log/slog"
	"time"
)

// Persistence controls how long a session outlives the request that
// created it.
type Persistence int

const (
	// PersistTimeout sessions survive across requests until idle-expired.
	PersistTimeout Persistence = iota
	// PersistSingleRequest sessions are valid for exactly the request that
	// created them. They are never written to durable storage; the creating
	// handler removes them when the request completes.
	PersistSingleRequest
)

// UserSession is one authenticated principal's session. The Store owns the
// canonical record and hands out independent copies; handlers never see the
// record the Store mutates. All mutation goes through Store methods so the
// dirty flag stays accurate.
type UserSession struct {
	// UniqueID is a short opaque identifier, stable across restarts of the
	// same session. Used in URLs and lock ownership records, never as a
	// credential.
	UniqueID string
	// SessionToken is the bearer credential bound to this record.
	SessionToken string
	// CSRFToken is required on cookie-authenticated state-changing requests.
	CSRFToken  string
	Username   string
	UserRole   string
	UserGroups []string
	// ClientID is an optional opaque correlation string supplied by the
	// client at login.
	ClientID string
	ClientIP string
	// LastUpdated is taken from time.Now() so it carries a monotonic reading;
	// idle timeout must never be computed from wall-clock time.
	LastUpdated time.Time
	Persistence Persistence
	// CookieAuth records whether the session was established via the cookie
	// flow, which is what makes CSRF enforcement apply.
	CookieAuth bool
	// IsConfigureSelfOnly gates the account to password changes only until
	// the expired password is replaced. Refreshed at the start of each
	// operation from the account authority; the stored value is the truth
	// within this process.
	IsConfigureSelfOnly bool
}

// clone returns an independent copy of the record, including the group
// slice. Lookups hand these out so callers can read fields without holding
// the store lock while the canonical record keeps changing.
func (us *UserSession) clone() *UserSession {
	c := *us
	c.UserGroups = append([]string(nil), us.UserGroups...)
	return &c
}

// Persisted keys of the durable session form. Only string-valued properties
// are persisted; role and group membership are re-resolved at authentication
// time and deliberately excluded.
const (
	keyUniqueID     = "unique_id"
	keySessionToken = "session_token"
	keyCSRFToken    = "csrf_token"
	keyUsername     = "username"
	keyClientID     = "client_id"
	keyClientIP     = "client_ip"
)

// FromPersisted rebuilds a session from its durable key-value form.
// Properties of unexpected type are logged and skipped rather than failing
// the whole record. Nil is returned unless all four mandatory properties
// (unique_id, session_token, csrf_token, username) are present and non-empty;
// a record missing any of them is discarded, not repaired.
//
// Restored sessions always get a fresh idle budget and Timeout persistence:
// monotonic clock continuity cannot be assumed across a restart, so the
// persisted activity time is deliberately not trusted.
func FromPersisted(doc map[string]any, log *slog.Logger) *UserSession {
	us := &UserSession{}
	for k, v := range doc {
		value, ok := v.(string)
		if !ok {
			log.Error("persisted session property is not a string, skipping",
				"property", k)
			continue
		}
		switch k {
		case keyUniqueID:
			us.UniqueID = value
		case keySessionToken:
			us.SessionToken = value
		case keyCSRFToken:
			us.CSRFToken = value
		case keyUsername:
			us.Username = value
		case keyClientID:
			us.ClientID = value
		case keyClientIP:
			us.ClientIP = value
		default:
			log.Error("unexpected property in persisted session, skipping",
				"property", k)
		}
	}

	if us.UniqueID == "" || us.SessionToken == "" || us.CSRFToken == "" ||
		us.Username == "" {
		log.Debug("persisted session missing required security information, refusing to restore")
		return nil
	}

	us.LastUpdated = time.Now()
	us.Persistence = PersistTimeout
	return us
}

// Persisted returns the durable form of the session. The caller must not
// persist SingleRequest sessions; the Store's snapshot path already excludes
// them.
func (us *UserSession) Persisted() map[string]any {
	doc := map[string]any{
		keyUniqueID:     us.UniqueID,
		keySessionToken: us.SessionToken,
		keyCSRFToken:    us.CSRFToken,
		keyUsername:     us.Username,
		keyClientIP:     us.ClientIP,
	}
	if us.ClientID != "" {
		doc[keyClientID] = us.ClientID
	}
	return doc
}
