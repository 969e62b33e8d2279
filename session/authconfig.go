package session

// AuthMethods holds the process-wide toggles for which authentication
// mechanisms the service accepts. Constructed once at startup and mutated
// only through Store.UpdateAuthMethods.
type AuthMethods struct {
	Basic        bool
	SessionToken bool
	XToken       bool
	Cookie       bool
	TLS          bool
}

// Persisted keys of the auth method configuration.
const (
	keyBasicAuth       = "BasicAuth"
	keySessionTokenOpt = "SessionToken"
	keyXToken          = "XToken"
	keyCookie          = "Cookie"
	keyTLS             = "TLS"
)

// DefaultAuthMethods enables every credential-bearing mechanism; mutual TLS
// stays off until an operator provisions client certificates.
func DefaultAuthMethods() AuthMethods {
	return AuthMethods{
		Basic:        true,
		SessionToken: true,
		XToken:       true,
		Cookie:       true,
		TLS:          false,
	}
}

// ApplyPersisted overlays persisted toggles onto the receiver. Properties of
// unexpected type are skipped; anything absent keeps its current value, so a
// partial document degrades to the defaults rather than failing the load.
func (a *AuthMethods) ApplyPersisted(doc map[string]any) {
	for k, v := range doc {
		value, ok := v.(bool)
		if !ok {
			continue
		}
		switch k {
		case keyBasicAuth:
			a.Basic = value
		case keySessionTokenOpt:
			a.SessionToken = value
		case keyXToken:
			a.XToken = value
		case keyCookie:
			a.Cookie = value
		case keyTLS:
			a.TLS = value
		}
	}
}

// Persisted returns the durable form of the configuration.
func (a AuthMethods) Persisted() map[string]any {
	return map[string]any{
		keyBasicAuth:       a.Basic,
		keySessionTokenOpt: a.SessionToken,
		keyXToken:          a.XToken,
		keyCookie:          a.Cookie,
		keyTLS:             a.TLS,
	}
}
