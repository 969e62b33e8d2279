package api

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// LoginRequest carries primary credentials. ClientID is an optional opaque
// correlation string echoed back on the session resource. UseCookies selects
// the cookie flow: the token is delivered as an HttpOnly cookie and mutating
// requests must carry the CSRF token header.
type LoginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	ClientID   string `json:"client_id,omitempty"`
	UseCookies bool   `json:"use_cookies,omitempty"`
}

// LoginResponse describes the created session. Token is omitted in the
// cookie flow, where the credential lives only in the cookie.
type LoginResponse struct {
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
	Role      string `json:"role"`
	Token     string `json:"token,omitempty"`
	CSRFToken string `json:"csrf_token,omitempty"`
}

// SessionResponse is the administrative view of a live session. The bearer
// token is never exposed here.
type SessionResponse struct {
	SessionID string   `json:"session_id"`
	Username  string   `json:"username"`
	Role      string   `json:"role,omitempty"`
	Groups    []string `json:"groups,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	ClientIP  string   `json:"client_ip"`
}

// AuthMethodsBody mirrors the auth method toggles. Pointers distinguish
// "leave unchanged" from an explicit false on PATCH.
type AuthMethodsBody struct {
	Basic        *bool `json:"basic,omitempty"`
	SessionToken *bool `json:"session_token,omitempty"`
	XToken       *bool `json:"x_token,omitempty"`
	Cookie       *bool `json:"cookie,omitempty"`
	TLS          *bool `json:"tls,omitempty"`
}

// AuthMethodsResponse reports the current auth method toggles.
type AuthMethodsResponse struct {
	Basic        bool `json:"basic"`
	SessionToken bool `json:"session_token"`
	XToken       bool `json:"x_token"`
	Cookie       bool `json:"cookie"`
	TLS          bool `json:"tls"`
}

// SessionTimeoutBody carries the idle timeout in seconds.
type SessionTimeoutBody struct {
	Seconds int64 `json:"seconds"`
}

// ChangePasswordRequest carries the replacement password.
type ChangePasswordRequest struct {
	Password string `json:"password"`
}

// AcquireLockRequest names the resource to lock.
type AcquireLockRequest struct {
	Resource string `json:"resource"`
}

// LockResponse describes a granted cooperative lock.
type LockResponse struct {
	LockID    string `json:"lock_id"`
	SessionID string `json:"session_id"`
	Resource  string `json:"resource"`
}
