package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/ironbmc/accounts"
	"github.com/jmcleod/ironbmc/locks"
	"github.com/jmcleod/ironbmc/session"
)

// RoleAdministrator may manage other users' sessions and service
// configuration.
const RoleAdministrator = "Administrator"

// Idle timeout bounds, matching the Redfish SessionService limits.
const (
	minSessionTimeout = 30 * time.Second
	maxSessionTimeout = 24 * time.Hour
)

func isAdmin(us *session.UserSession) bool {
	return us.UserRole == RoleAdministrator
}

func sessionResponse(us *session.UserSession, includeUserInfo bool) SessionResponse {
	resp := SessionResponse{
		SessionID: us.UniqueID,
		Username:  us.Username,
		ClientID:  us.ClientID,
		ClientIP:  us.ClientIP,
	}
	if includeUserInfo {
		resp.Role = us.UserRole
		resp.Groups = us.UserGroups
	}
	return resp
}

// ListSessions returns the live sessions the caller may see: all of them for
// an administrator, otherwise only the caller's own.
func (a *API) ListSessions(w http.ResponseWriter, r *http.Request) {
	caller := sessionFromContext(r.Context())

	out := []SessionResponse{}
	for _, uid := range a.store.UniqueIDs(true, session.PersistTimeout) {
		us := a.store.FindByUniqueID(uid)
		if us == nil {
			// Swept between snapshot and lookup.
			continue
		}
		if !isAdmin(caller) && us.Username != caller.Username {
			continue
		}
		out = append(out, sessionResponse(us, false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) GetSession(w http.ResponseWriter, r *http.Request) {
	caller := sessionFromContext(r.Context())

	us := a.store.FindByUniqueID(chi.URLParam(r, "sessionID"))
	if us == nil || (!isAdmin(caller) && us.Username != caller.Username) {
		// A session the caller may not see is indistinguishable from one
		// that does not exist.
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(us, true))
}

// DeleteSession ends a session by unique ID: the administrative revocation
// path, also used by clients logging out a specific session of their own.
func (a *API) DeleteSession(w http.ResponseWriter, r *http.Request) {
	caller := sessionFromContext(r.Context())

	us := a.store.FindByUniqueID(chi.URLParam(r, "sessionID"))
	if us == nil || (!isAdmin(caller) && us.Username != caller.Username) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	a.store.RemoveSession(us)
	if us.UniqueID == caller.UniqueID && us.CookieAuth {
		clearSessionCookie(w, r)
		clearCSRFCookie(w, r)
	}
	a.audit.log(auditSessionDeleted, r,
		"session_id", us.UniqueID,
		"username", us.Username,
		"deleted_by", caller.Username,
	)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) GetAuthMethods(w http.ResponseWriter, r *http.Request) {
	m := a.store.AuthMethodsConfig()
	writeJSON(w, http.StatusOK, AuthMethodsResponse{
		Basic:        m.Basic,
		SessionToken: m.SessionToken,
		XToken:       m.XToken,
		Cookie:       m.Cookie,
		TLS:          m.TLS,
	})
}

// UpdateAuthMethods applies a partial update to the accepted authentication
// mechanisms. Disabling every mechanism at once would lock all operators
// out, so at least one must stay enabled. Toggling mutual TLS makes the
// store signal a transport reload.
func (a *API) UpdateAuthMethods(w http.ResponseWriter, r *http.Request) {
	caller := sessionFromContext(r.Context())
	if !isAdmin(caller) {
		writeError(w, http.StatusForbidden, "administrator role required")
		return
	}

	var body AuthMethodsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := a.store.AuthMethodsConfig()
	if body.Basic != nil {
		cfg.Basic = *body.Basic
	}
	if body.SessionToken != nil {
		cfg.SessionToken = *body.SessionToken
	}
	if body.XToken != nil {
		cfg.XToken = *body.XToken
	}
	if body.Cookie != nil {
		cfg.Cookie = *body.Cookie
	}
	if body.TLS != nil {
		cfg.TLS = *body.TLS
	}
	if !cfg.Basic && !cfg.SessionToken && !cfg.XToken && !cfg.Cookie && !cfg.TLS {
		writeError(w, http.StatusBadRequest, "at least one authentication mechanism must stay enabled")
		return
	}

	a.store.UpdateAuthMethods(cfg)
	a.audit.log(auditAuthConfigChanged, r, "changed_by", caller.Username)
	a.GetAuthMethods(w, r)
}

func (a *API) GetSessionTimeout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, SessionTimeoutBody{
		Seconds: int64(a.store.Timeout() / time.Second),
	})
}

// SetSessionTimeout changes the idle timeout for future sweeps; running
// sessions are re-evaluated on the next sweep, not retroactively here.
func (a *API) SetSessionTimeout(w http.ResponseWriter, r *http.Request) {
	caller := sessionFromContext(r.Context())
	if !isAdmin(caller) {
		writeError(w, http.StatusForbidden, "administrator role required")
		return
	}

	var body SessionTimeoutBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	timeout := time.Duration(body.Seconds) * time.Second
	if timeout < minSessionTimeout || timeout > maxSessionTimeout {
		writeError(w, http.StatusBadRequest, "timeout must be between 30 and 86400 seconds")
		return
	}

	a.store.SetTimeout(timeout)
	a.audit.log(auditTimeoutChanged, r, "seconds", body.Seconds, "changed_by", caller.Username)
	a.GetSessionTimeout(w, r)
}

// ChangePassword replaces an account password. Users may change their own;
// administrators may change anyone's. Every other session of the affected
// user is revoked: the one performing its own change survives, an
// administrator resetting another account revokes all of that account's
// sessions.
func (a *API) ChangePassword(w http.ResponseWriter, r *http.Request) {
	caller := sessionFromContext(r.Context())
	username := chi.URLParam(r, "username")

	self := username == caller.Username
	if !self && !isAdmin(caller) {
		writeError(w, http.StatusForbidden, "cannot change another user's password")
		return
	}

	var req ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}

	err := a.accounts.SetPassword(username, memguard.NewBufferFromBytes([]byte(req.Password)))
	if err != nil {
		if errors.Is(err, accounts.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "unable to change password")
		return
	}

	if self {
		a.store.RemoveSessionsForUserExcept(username, caller)
		// The password is no longer expired; lift the configure-self gate.
		a.store.RefreshUser(caller.UniqueID, caller.UserRole, caller.UserGroups, false)
	} else {
		a.store.RemoveSessionsForUser(username)
	}

	a.audit.log(auditPasswordChanged, r, "username", username, "changed_by", caller.Username)
	w.WriteHeader(http.StatusNoContent)
}

// AcquireLock grants a cooperative lock owned by the caller's session. Locks
// die with the session, whether it logs out or idles away.
func (a *API) AcquireLock(w http.ResponseWriter, r *http.Request) {
	caller := sessionFromContext(r.Context())

	var req AcquireLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Resource == "" {
		writeError(w, http.StatusBadRequest, "resource is required")
		return
	}

	l, err := a.locks.Acquire(caller.UniqueID, req.Resource)
	if err != nil {
		if errors.Is(err, locks.ErrConflict) {
			writeError(w, http.StatusConflict, "resource is locked by another session")
			return
		}
		writeError(w, http.StatusInternalServerError, "unable to acquire lock")
		return
	}

	a.audit.log(auditLockAcquired, r, "resource", req.Resource, "session_id", caller.UniqueID)
	writeJSON(w, http.StatusCreated, LockResponse{
		LockID:    l.ID,
		SessionID: l.SessionID,
		Resource:  l.Resource,
	})
}

func (a *API) ListLocks(w http.ResponseWriter, r *http.Request) {
	caller := sessionFromContext(r.Context())

	out := []LockResponse{}
	for _, l := range a.locks.Held(caller.UniqueID) {
		out = append(out, LockResponse{
			LockID:    l.ID,
			SessionID: l.SessionID,
			Resource:  l.Resource,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) ReleaseLock(w http.ResponseWriter, r *http.Request) {
	caller := sessionFromContext(r.Context())
	lockID := chi.URLParam(r, "lockID")

	owned := false
	for _, l := range a.locks.Held(caller.UniqueID) {
		if l.ID == lockID {
			owned = true
			break
		}
	}
	if !owned {
		writeError(w, http.StatusNotFound, "lock not found")
		return
	}
	if err := a.locks.ReleaseLock(lockID); err != nil {
		writeError(w, http.StatusNotFound, "lock not found")
		return
	}

	a.audit.log(auditLockReleased, r, "lock_id", lockID, "session_id", caller.UniqueID)
	w.WriteHeader(http.StatusNoContent)
}
