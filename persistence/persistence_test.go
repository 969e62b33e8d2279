package persistence_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironbmc/persistence"
	"github.com/jmcleod/ironbmc/persistence/memory"
	"github.com/jmcleod/ironbmc/session"
)

var testAddr = netip.MustParseAddr("192.0.2.1")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSaveLoadRoundtrip(t *testing.T) {
	backend := memory.New()
	adapter := persistence.NewAdapter(backend, testLogger())

	store := session.NewStore(session.WithLogger(testLogger()))
	require.NoError(t, adapter.Load(store))

	us, err := store.CreateSession("alice", testAddr, "corr-1", session.PersistTimeout, false, false)
	require.NoError(t, err)
	store.SetTimeout(10 * time.Minute)

	cfg := store.AuthMethodsConfig()
	cfg.Basic = false
	store.UpdateAuthMethods(cfg)

	require.NoError(t, adapter.Save(store))

	// Fresh process: new store, new adapter, same backend.
	restoredStore := session.NewStore(session.WithLogger(testLogger()))
	restoredAdapter := persistence.NewAdapter(backend, testLogger())
	require.NoError(t, restoredAdapter.Load(restoredStore))

	got := restoredStore.AuthenticateByToken(us.SessionToken)
	require.NotNil(t, got, "expected persisted session to authenticate after reload")
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, us.UniqueID, got.UniqueID)
	assert.Equal(t, us.CSRFToken, got.CSRFToken)
	assert.Equal(t, session.PersistTimeout, got.Persistence)

	assert.Equal(t, 10*time.Minute, restoredStore.Timeout())
	assert.False(t, restoredStore.AuthMethodsConfig().Basic)
	assert.False(t, restoredStore.NeedsWrite(), "restored state must start clean")
}

func TestLoad_DiscardsInvalidRecords(t *testing.T) {
	backend := memory.New()

	valid := map[string]any{
		"unique_id":     "abc123defg",
		"session_token": "AAAAAAAAAAAAAAAAAAAA",
		"csrf_token":    "BBBBBBBBBBBBBBBBBBBB",
		"username":      "alice",
		"client_ip":     "192.0.2.7",
	}
	missingCSRF := map[string]any{
		"unique_id":     "zzz999zzz9",
		"session_token": "CCCCCCCCCCCCCCCCCCCC",
		"username":      "bob",
	}
	validRaw, err := json.Marshal(valid)
	require.NoError(t, err)
	invalidRaw, err := json.Marshal(missingCSRF)
	require.NoError(t, err)
	require.NoError(t, backend.Save(nil, map[string][]byte{
		"abc123defg": validRaw,
		"zzz999zzz9": invalidRaw,
		"garbage":    []byte("{not json"),
	}))

	store := session.NewStore(session.WithLogger(testLogger()))
	adapter := persistence.NewAdapter(backend, testLogger())
	require.NoError(t, adapter.Load(store), "invalid records must not fail the load")

	assert.NotNil(t, store.AuthenticateByToken("AAAAAAAAAAAAAAAAAAAA"))
	assert.Nil(t, store.AuthenticateByToken("CCCCCCCCCCCCCCCCCCCC"))
	assert.Len(t, store.UniqueIDs(true, session.PersistTimeout), 1)
}

func TestSave_ExcludesSingleRequestSessions(t *testing.T) {
	backend := memory.New()
	adapter := persistence.NewAdapter(backend, testLogger())

	store := session.NewStore(session.WithLogger(testLogger()))
	require.NoError(t, adapter.Load(store))

	_, err := store.CreateSession("alice", testAddr, "", session.PersistSingleRequest, false, false)
	require.NoError(t, err)
	keep, err := store.CreateSession("alice", testAddr, "", session.PersistTimeout, false, false)
	require.NoError(t, err)

	require.NoError(t, adapter.Save(store))

	docs, err := backend.LoadSessions()
	require.NoError(t, err)
	require.Len(t, docs, 1)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(docs[0], &doc))
	assert.Equal(t, keep.UniqueID, doc["unique_id"])
}

func TestSystemUUID_StableAcrossReloads(t *testing.T) {
	backend := memory.New()

	store := session.NewStore(session.WithLogger(testLogger()))
	adapter := persistence.NewAdapter(backend, testLogger())
	require.NoError(t, adapter.Load(store))
	first := adapter.SystemUUID()
	require.NotEmpty(t, first)

	again := persistence.NewAdapter(backend, testLogger())
	require.NoError(t, again.Load(session.NewStore(session.WithLogger(testLogger()))))
	assert.Equal(t, first, again.SystemUUID())
}
