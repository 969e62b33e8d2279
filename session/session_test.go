package session

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func validPersistedDoc() map[string]any {
	return map[string]any{
		"unique_id":     "abc123defg",
		"session_token": "AAAAAAAAAAAAAAAAAAAA",
		"csrf_token":    "BBBBBBBBBBBBBBBBBBBB",
		"username":      "alice",
		"client_ip":     "192.0.2.7",
	}
}

func TestFromPersisted_Roundtrip(t *testing.T) {
	doc := validPersistedDoc()
	doc["client_id"] = "corr-42"

	us := FromPersisted(doc, discardLogger())
	require.NotNil(t, us)
	assert.Equal(t, "abc123defg", us.UniqueID)
	assert.Equal(t, "AAAAAAAAAAAAAAAAAAAA", us.SessionToken)
	assert.Equal(t, "BBBBBBBBBBBBBBBBBBBB", us.CSRFToken)
	assert.Equal(t, "alice", us.Username)
	assert.Equal(t, "corr-42", us.ClientID)
	assert.Equal(t, "192.0.2.7", us.ClientIP)
}

func TestFromPersisted_MissingMandatoryField(t *testing.T) {
	for _, key := range []string{"unique_id", "session_token", "csrf_token", "username"} {
		t.Run(key, func(t *testing.T) {
			doc := validPersistedDoc()
			delete(doc, key)
			assert.Nil(t, FromPersisted(doc, discardLogger()))
		})
	}
}

func TestFromPersisted_EmptyMandatoryField(t *testing.T) {
	doc := validPersistedDoc()
	doc["csrf_token"] = ""
	assert.Nil(t, FromPersisted(doc, discardLogger()))
}

func TestFromPersisted_SkipsUnexpectedAndNonString(t *testing.T) {
	doc := validPersistedDoc()
	doc["favorite_color"] = "green"
	doc["client_id"] = 42.0 // wrong type, skipped, record still valid

	us := FromPersisted(doc, discardLogger())
	require.NotNil(t, us)
	assert.Empty(t, us.ClientID)
}

func TestFromPersisted_ResetsIdleBudget(t *testing.T) {
	before := time.Now()
	us := FromPersisted(validPersistedDoc(), discardLogger())
	require.NotNil(t, us)

	// Restored sessions always start a fresh idle budget with Timeout
	// persistence, regardless of what was persisted.
	assert.Equal(t, PersistTimeout, us.Persistence)
	assert.False(t, us.LastUpdated.Before(before))
}

func TestPersisted_OmitsEmptyClientID(t *testing.T) {
	us := &UserSession{
		UniqueID:     "abc123defg",
		SessionToken: "AAAAAAAAAAAAAAAAAAAA",
		CSRFToken:    "BBBBBBBBBBBBBBBBBBBB",
		Username:     "alice",
		ClientIP:     "192.0.2.7",
	}
	doc := us.Persisted()
	_, present := doc["client_id"]
	assert.False(t, present)

	us.ClientID = "corr-42"
	assert.Equal(t, "corr-42", us.Persisted()["client_id"])
}
