package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultAuthMethods(t *testing.T) {
	a := DefaultAuthMethods()
	assert.True(t, a.Basic)
	assert.True(t, a.SessionToken)
	assert.True(t, a.XToken)
	assert.True(t, a.Cookie)
	assert.False(t, a.TLS)
}

func TestAuthMethods_ApplyPersisted(t *testing.T) {
	a := DefaultAuthMethods()
	a.ApplyPersisted(map[string]any{
		"BasicAuth": false,
		"TLS":       true,
		"Cookie":    "yes", // wrong type, skipped
		"Unknown":   true,  // unknown key, ignored
	})
	assert.False(t, a.Basic)
	assert.True(t, a.TLS)
	assert.True(t, a.Cookie, "non-bool value must not change the toggle")
	assert.True(t, a.SessionToken, "absent key keeps current value")
}

func TestAuthMethods_PersistedRoundtrip(t *testing.T) {
	a := AuthMethods{Basic: true, SessionToken: false, XToken: true, Cookie: false, TLS: true}

	var b AuthMethods
	b.ApplyPersisted(a.Persisted())
	assert.Equal(t, a, b)
}
