package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironbmc/session"
)

// Login authenticates primary credentials and mints a Timeout-persistence
// session. The bearer token is returned either in the X-Auth-Token response
// header and body, or, for the cookie flow, as an HttpOnly cookie paired
// with a readable CSRF cookie.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	methods := a.store.AuthMethodsConfig()
	if req.UseCookies && !methods.Cookie {
		writeError(w, http.StatusBadRequest, "cookie authentication is disabled")
		return
	}

	acct, err := a.accounts.Verify(req.Username, memguard.NewBufferFromBytes([]byte(req.Password)))
	if err != nil {
		a.audit.log(auditLoginFailure, r, "username", req.Username, "mechanism", "session")
		writeError(w, http.StatusUnauthorized, "invalid username or password")
		return
	}

	us, err := a.store.CreateSession(acct.Username, clientAddr(r), req.ClientID, session.PersistTimeout, req.UseCookies, acct.PasswordExpired)
	if err != nil {
		// Entropy exhaustion: the login fails outright, no retry.
		a.audit.log(auditSessionCreateFailed, r, "error", err.Error())
		writeError(w, http.StatusServiceUnavailable, "unable to create session")
		return
	}
	a.store.RefreshUser(us.UniqueID, acct.Role, acct.Groups, acct.PasswordExpired)

	resp := LoginResponse{
		SessionID: us.UniqueID,
		Username:  us.Username,
		Role:      acct.Role,
	}
	if req.UseCookies {
		writeSessionCookie(w, r, us.SessionToken)
		writeCSRFCookie(w, r, us.CSRFToken)
		resp.CSRFToken = us.CSRFToken
	} else {
		w.Header().Set(authTokenHeader, us.SessionToken)
		resp.Token = us.SessionToken
	}

	a.audit.log(auditLoginSuccess, r,
		"username", us.Username,
		"session_id", us.UniqueID,
		"cookie_auth", us.CookieAuth,
	)
	writeJSON(w, http.StatusCreated, resp)
}

// Logout removes the caller's session. For SingleRequest sessions minted
// from Basic credentials this is effectively a no-op: the middleware removes
// them regardless when the request ends.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	us := sessionFromContext(r.Context())
	a.store.RemoveSession(us)
	if us.CookieAuth {
		clearSessionCookie(w, r)
		clearCSRFCookie(w, r)
	}
	a.audit.log(auditLogout, r, "username", us.Username, "session_id", us.UniqueID)
	w.WriteHeader(http.StatusNoContent)
}

func writeSessionCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// writeCSRFCookie is intentionally NOT HttpOnly so browser-side code can
// read the token and replay it in the X-XSRF-TOKEN header on mutating
// requests.
func writeCSRFCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: false,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func clearCSRFCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: false,
		Secure:   requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}
