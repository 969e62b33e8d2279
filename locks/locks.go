// Package locks provides a cooperative lock registry for management clients
// that coordinate exclusive access to controller resources. Locks are owned
// by a session and are force-released when that session ends, so a client
// that disappears cannot strand a resource.
package locks

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrConflict indicates the resource is already locked by another session.
	ErrConflict = errors.New("resource is locked by another session")
	// ErrNotHeld indicates no lock with the given ID exists.
	ErrNotHeld = errors.New("lock not held")
)

// Lock is one granted cooperative lock.
type Lock struct {
	// ID identifies the grant; clients present it to release the lock.
	ID string
	// SessionID is the unique ID of the owning session.
	SessionID string
	// Resource names what is locked. One lock per resource.
	Resource string
}

// Registry tracks cooperative locks keyed by owning session. Safe for
// concurrent use.
type Registry struct {
	mu         sync.Mutex
	byResource map[string]Lock
	bySession  map[string][]string // session unique ID -> locked resources
}

// NewRegistry creates an empty lock registry.
func NewRegistry() *Registry {
	return &Registry{
		byResource: make(map[string]Lock),
		bySession:  make(map[string][]string),
	}
}

// Acquire grants a lock on resource to the session with the given unique ID.
// It fails with ErrConflict if another session holds the resource; a session
// re-acquiring its own resource gets the existing grant back.
func (r *Registry) Acquire(sessionID, resource string) (Lock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if held, ok := r.byResource[resource]; ok {
		if held.SessionID == sessionID {
			return held, nil
		}
		return Lock{}, ErrConflict
	}

	l := Lock{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Resource:  resource,
	}
	r.byResource[resource] = l
	r.bySession[sessionID] = append(r.bySession[sessionID], resource)
	return l, nil
}

// ReleaseLock releases a single grant by lock ID, on behalf of its owner.
func (r *Registry) ReleaseLock(lockID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for resource, l := range r.byResource {
		if l.ID != lockID {
			continue
		}
		delete(r.byResource, resource)
		r.dropSessionResource(l.SessionID, resource)
		return nil
	}
	return ErrNotHeld
}

// Release force-releases every lock owned by the session. It implements
// session.LockReleaser and is invoked by the session store as part of
// session removal. Releasing for a session that holds nothing is a no-op.
func (r *Registry) Release(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, resource := range r.bySession[sessionID] {
		delete(r.byResource, resource)
	}
	delete(r.bySession, sessionID)
}

// Held returns the locks owned by the session. The result is a snapshot.
func (r *Registry) Held(sessionID string) []Lock {
	r.mu.Lock()
	defer r.mu.Unlock()

	resources := r.bySession[sessionID]
	held := make([]Lock, 0, len(resources))
	for _, resource := range resources {
		if l, ok := r.byResource[resource]; ok {
			held = append(held, l)
		}
	}
	return held
}

// dropSessionResource must be called with r.mu held.
func (r *Registry) dropSessionResource(sessionID, resource string) {
	resources := r.bySession[sessionID]
	for i, res := range resources {
		if res == resource {
			r.bySession[sessionID] = append(resources[:i], resources[i+1:]...)
			break
		}
	}
	if len(r.bySession[sessionID]) == 0 {
		delete(r.bySession, sessionID)
	}
}
