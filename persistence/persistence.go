// Package persistence flushes the session store's durable subset to stable
// storage and restores it on startup. The store itself never performs I/O;
// it exposes a dirty flag that the adapter polls.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jmcleod/ironbmc/session"
)

// Revision is the version of the persisted document layout. Documents with a
// newer revision were written by a newer build; their sessions are still
// loaded field by field, tolerating anything unrecognized.
const Revision = 1

// Config bucket keys.
const (
	keyAuthMethods = "auth_methods"
	keyTimeout     = "timeout_seconds"
	keySystemUUID  = "system_uuid"
	keyRevision    = "revision"
)

// Backend is the raw durable document store beneath the adapter. Save must
// replace the previous contents atomically.
type Backend interface {
	LoadConfig() (map[string][]byte, error)
	// LoadSessions returns the raw persisted session documents.
	LoadSessions() ([][]byte, error)
	// Save atomically replaces all persisted state. Session documents are
	// keyed by the session's unique ID.
	Save(config map[string][]byte, sessions map[string][]byte) error
	Close() error
}

// Adapter reconciles the session store with a Backend.
type Adapter struct {
	backend    Backend
	log        *slog.Logger
	systemUUID string
}

// NewAdapter creates a persistence adapter over the given backend.
func NewAdapter(backend Backend, log *slog.Logger) *Adapter {
	return &Adapter{backend: backend, log: log.With("component", "persistence")}
}

// SystemUUID returns the stable service identifier, generating and persisting
// one on first load.
func (a *Adapter) SystemUUID() string {
	return a.systemUUID
}

// Load restores persisted state into the store. Malformed session records
// are discarded individually with a log entry; the load as a whole only
// fails on backend errors. The store is left clean: everything restored is
// by definition already durable.
func (a *Adapter) Load(store *session.Store) error {
	config, err := a.backend.LoadConfig()
	if err != nil {
		return fmt.Errorf("loading persisted config: %w", err)
	}

	if raw, ok := config[keyRevision]; ok {
		var rev int
		if err := json.Unmarshal(raw, &rev); err == nil && rev > Revision {
			a.log.Warn("persisted state written by a newer revision",
				"persisted", rev, "supported", Revision)
		}
	}

	if raw, ok := config[keyTimeout]; ok {
		var seconds int64
		if err := json.Unmarshal(raw, &seconds); err != nil || seconds <= 0 {
			a.log.Error("invalid persisted session timeout, keeping default")
		} else {
			store.SetTimeout(time.Duration(seconds) * time.Second)
		}
	}

	if raw, ok := config[keyAuthMethods]; ok {
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			a.log.Error("invalid persisted auth method config, keeping defaults")
		} else {
			methods := store.AuthMethodsConfig()
			methods.ApplyPersisted(doc)
			store.UpdateAuthMethods(methods)
		}
	}

	generated := false
	if raw, ok := config[keySystemUUID]; ok {
		if err := json.Unmarshal(raw, &a.systemUUID); err != nil {
			a.log.Error("invalid persisted system UUID, regenerating")
		}
	}
	if a.systemUUID == "" {
		a.systemUUID = uuid.NewString()
		generated = true
	}

	docs, err := a.backend.LoadSessions()
	if err != nil {
		return fmt.Errorf("loading persisted sessions: %w", err)
	}
	restored := 0
	for _, raw := range docs {
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			a.log.Error("discarding unparseable persisted session", "error", err)
			continue
		}
		us := session.FromPersisted(doc, a.log)
		if us == nil {
			continue
		}
		store.Restore(us)
		restored++
	}
	a.log.Info("restored persisted sessions", "count", restored)

	store.MarkClean()
	if generated {
		// Persist the fresh system UUID so it stays stable across restarts.
		return a.Save(store)
	}
	return nil
}

// Save snapshots the store's durable subset and writes it to the backend.
// SingleRequest sessions never appear in the snapshot.
func (a *Adapter) Save(store *session.Store) error {
	authMethods, err := json.Marshal(store.AuthMethodsConfig().Persisted())
	if err != nil {
		return fmt.Errorf("encoding auth method config: %w", err)
	}
	timeout, err := json.Marshal(int64(store.Timeout() / time.Second))
	if err != nil {
		return fmt.Errorf("encoding session timeout: %w", err)
	}
	systemUUID, err := json.Marshal(a.systemUUID)
	if err != nil {
		return fmt.Errorf("encoding system UUID: %w", err)
	}
	revision, err := json.Marshal(Revision)
	if err != nil {
		return fmt.Errorf("encoding revision: %w", err)
	}
	config := map[string][]byte{
		keyAuthMethods: authMethods,
		keyTimeout:     timeout,
		keySystemUUID:  systemUUID,
		keyRevision:    revision,
	}

	sessions := make(map[string][]byte)
	for _, doc := range store.PersistedSessions() {
		raw, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encoding session document: %w", err)
		}
		uid, _ := doc["unique_id"].(string)
		sessions[uid] = raw
	}

	if err := a.backend.Save(config, sessions); err != nil {
		return fmt.Errorf("writing persisted state: %w", err)
	}
	return nil
}

// Run flushes dirty state at the given interval until ctx is cancelled, then
// performs a final flush so a clean shutdown never loses session state.
func (a *Adapter) Run(ctx context.Context, store *session.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if store.NeedsWrite() {
				store.MarkClean()
				if err := a.Save(store); err != nil {
					a.log.Error("final state flush failed", "error", err)
				}
			}
			return
		case <-ticker.C:
			if !store.NeedsWrite() {
				continue
			}
			// Clear the flag before snapshotting so mutations racing the
			// snapshot re-dirty the store and get picked up next tick.
			store.MarkClean()
			if err := a.Save(store); err != nil {
				a.log.Error("state flush failed", "error", err)
			}
		}
	}
}
