package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"net/netip"
	"strings"

	"github.com/awnumar/memguard"

	"github.com/jmcleod/ironbmc/session"
)

type contextKey int

const sessionKey contextKey = iota

const (
	sessionCookieName = "ironbmc_session"
	csrfCookieName    = "XSRF-TOKEN"
	csrfHeaderName    = "X-XSRF-TOKEN"
	authTokenHeader   = "X-Auth-Token"
)

// AuthMiddleware authenticates the request using whichever mechanisms the
// current auth method configuration accepts, in fixed precedence order:
// X-Auth-Token header, session cookie, token Authorization, then Basic.
// The resolved session handle is stored on the request context.
//
// Basic credentials mint a SingleRequest session that is removed when the
// handler returns; it never reaches durable storage.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods := a.store.AuthMethodsConfig()

		us := a.sessionFromXToken(r, methods)
		if us == nil {
			var ok bool
			us, ok = a.sessionFromCookie(w, r, methods)
			if !ok {
				// Cookie present but CSRF check failed; response written.
				return
			}
		}
		if us == nil {
			us = a.sessionFromTokenAuth(r, methods)
		}

		singleRequest := false
		if us == nil && methods.Basic {
			us = a.sessionFromBasicAuth(r)
			singleRequest = us != nil
		}

		if us == nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if singleRequest {
			// End of the single request the session was minted for.
			defer a.store.RemoveSession(us)
		}

		if us.IsConfigureSelfOnly && !configureSelfAllowed(r, us) {
			writeError(w, http.StatusForbidden, "password change required before any other operation")
			return
		}

		ctx := context.WithValue(r.Context(), sessionKey, us)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *API) sessionFromXToken(r *http.Request, methods session.AuthMethods) *session.UserSession {
	if !methods.XToken {
		return nil
	}
	token := r.Header.Get(authTokenHeader)
	if token == "" {
		return nil
	}
	return a.store.AuthenticateByToken(token)
}

func (a *API) sessionFromTokenAuth(r *http.Request, methods session.AuthMethods) *session.UserSession {
	if !methods.SessionToken {
		return nil
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Token ")
	if !ok {
		return nil
	}
	return a.store.AuthenticateByToken(token)
}

// sessionFromCookie resolves a cookie-authenticated session. State-changing
// methods additionally require the session's CSRF token in a request header,
// compared in constant time. Returns ok=false when a response has already
// been written.
func (a *API) sessionFromCookie(w http.ResponseWriter, r *http.Request, methods session.AuthMethods) (*session.UserSession, bool) {
	if !methods.Cookie {
		return nil, true
	}
	cookie, err := r.Cookie(sessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, true
	}
	us := a.store.AuthenticateByToken(cookie.Value)
	if us == nil || !us.CookieAuth {
		return nil, true
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead && r.Method != http.MethodOptions {
		header := r.Header.Get(csrfHeaderName)
		if subtle.ConstantTimeCompare([]byte(us.CSRFToken), []byte(header)) != 1 {
			a.audit.log(auditCSRFRejected, r, "session_id", us.UniqueID)
			writeError(w, http.StatusForbidden, "invalid CSRF token")
			return nil, false
		}
	}
	return us, true
}

func (a *API) sessionFromBasicAuth(r *http.Request) *session.UserSession {
	username, password, ok := r.BasicAuth()
	if !ok {
		return nil
	}
	acct, err := a.accounts.Verify(username, memguard.NewBufferFromBytes([]byte(password)))
	if err != nil {
		a.audit.log(auditLoginFailure, r, "username", username, "mechanism", "basic")
		return nil
	}

	us, err := a.store.CreateSession(acct.Username, clientAddr(r), "", session.PersistSingleRequest, false, acct.PasswordExpired)
	if err != nil {
		a.audit.log(auditSessionCreateFailed, r, "error", err.Error())
		return nil
	}
	if refreshed := a.store.RefreshUser(us.UniqueID, acct.Role, acct.Groups, acct.PasswordExpired); refreshed != nil {
		us = refreshed
	}
	return us
}

// configureSelfAllowed lists the only operations permitted while the account
// is gated on an expired password: changing its own password and ending its
// own session. Suffix matching keeps the check independent of the prefix
// the router is mounted under; no other route shares these path shapes.
func configureSelfAllowed(r *http.Request, us *session.UserSession) bool {
	if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/accounts/"+us.Username+"/password") {
		return true
	}
	if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/logout") {
		return true
	}
	if r.Method == http.MethodDelete && strings.HasSuffix(r.URL.Path, "/sessions/"+us.UniqueID) {
		return true
	}
	return false
}

// clientAddr extracts the originating IP from the request. An unparseable
// remote address yields the zero Addr, which stringifies to a recognizable
// "invalid IP" marker rather than failing the login.
func clientAddr(r *http.Request) netip.Addr {
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr()
	}
	if addr, err := netip.ParseAddr(r.RemoteAddr); err == nil {
		return addr
	}
	return netip.Addr{}
}

func sessionFromContext(ctx context.Context) *session.UserSession {
	us, _ := ctx.Value(sessionKey).(*session.UserSession)
	return us
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
