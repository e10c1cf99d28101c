package statemanager_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/a-essam23/chirp-relay/pkg/logging"
	"github.com/a-essam23/chirp-relay/pkg/state"
	"github.com/a-essam23/chirp-relay/pkg/state/statemanager"
	"github.com/google/uuid"
)

// --- Test Suite Setup ---

func newTestManager() *statemanager.InMemoryManager {
	return statemanager.NewInMemoryManager(logging.Discard())
}

type nopSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *nopSender) Send(message []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, message)
}

// --- Session Registry Tests ---

func TestSessionLifecycle(t *testing.T) {
	m := newTestManager()
	connID := uuid.New()

	// 1. Register
	s := m.Register(connID, state.Identity{}, &nopSender{})
	if s.ID != connID {
		t.Errorf("Registered session ID mismatch")
	}
	identity, found := m.Lookup(connID)
	if !found {
		t.Fatal("Lookup failed to find registered connection")
	}
	if identity.Identified() {
		t.Errorf("Expected a fresh session to be unidentified, got %+v", identity)
	}

	// 2. Update identity
	if err := m.UpdateIdentity(connID, state.Identity{UserID: 7, OwnerID: 7}); err != nil {
		t.Fatalf("UpdateIdentity failed: %v", err)
	}
	identity, _ = m.Lookup(connID)
	if identity.UserID != 7 {
		t.Errorf("Expected user id 7, got %d", identity.UserID)
	}

	// 3. Remove, twice
	if _, ok := m.Remove(connID); !ok {
		t.Fatal("Remove failed to find session")
	}
	if _, ok := m.Remove(connID); ok {
		t.Error("Second Remove should report nothing removed")
	}
	if _, found := m.Lookup(connID); found {
		t.Error("Found connection after it should have been removed")
	}
	if m.SessionCount() != 0 {
		t.Errorf("Expected 0 sessions, got %d", m.SessionCount())
	}
}

func TestRegisterOverwritesExistingEntry(t *testing.T) {
	m := newTestManager()
	connID := uuid.New()
	first, second := &nopSender{}, &nopSender{}

	m.Register(connID, state.Identity{UserID: 1, OwnerID: 1}, first)
	s := m.Register(connID, state.Identity{UserID: 2, OwnerID: 2}, second)

	if m.SessionCount() != 1 {
		t.Fatalf("Expected exactly one session, got %d", m.SessionCount())
	}
	if s.Identity.UserID != 2 || s.Reply != second {
		t.Errorf("Expected overwrite to replace identity and reply channel, got %+v", s)
	}
}

func TestUpdateIdentityUnknownConnection(t *testing.T) {
	m := newTestManager()
	err := m.UpdateIdentity(uuid.New(), state.Identity{UserID: 1})
	if !errors.Is(err, state.ErrUnknownConnection) {
		t.Fatalf("Expected ErrUnknownConnection, got %v", err)
	}
}

// --- Connection Index Tests ---

func TestAddRefIsIdempotent(t *testing.T) {
	m := newTestManager()
	connID := uuid.New()

	if !m.AddRef(100, 100, connID) {
		t.Fatal("First AddRef should insert")
	}
	if m.AddRef(100, 100, connID) {
		t.Error("Duplicate AddRef should be ignored")
	}
	refs, found := m.Bucket(100)
	if !found {
		t.Fatal("Expected bucket 100 to exist")
	}
	if len(refs) != 1 {
		t.Fatalf("Expected 1 ref, got %d", len(refs))
	}
}

func TestFindByContact(t *testing.T) {
	m := newTestManager()
	self, direct := uuid.New(), uuid.New()
	m.AddRef(200, 200, self)
	m.AddRef(200, 100, direct)

	got, found := m.FindByContact(200, 100)
	if !found || got != direct {
		t.Errorf("Expected direct connection %s, got %s (found=%v)", direct, got, found)
	}
	got, found = m.FindByContact(200, 200)
	if !found || got != self {
		t.Errorf("Expected self connection %s, got %s (found=%v)", self, got, found)
	}
	if _, found := m.FindByContact(200, 300); found {
		t.Error("Expected no connection for unknown contact")
	}
	if _, found := m.FindByContact(999, 100); found {
		t.Error("Expected no connection for unknown bucket")
	}
}

func TestRemoveByConnectionPurgesEveryBucket(t *testing.T) {
	m := newTestManager()
	shared, other := uuid.New(), uuid.New()
	m.AddRef(1, 1, shared)
	m.AddRef(2, 1, shared)
	m.AddRef(2, 2, other)

	if n := m.RemoveByConnection(shared); n != 2 {
		t.Fatalf("Expected 2 refs removed, got %d", n)
	}
	if _, found := m.Bucket(1); found {
		t.Error("Expected empty bucket 1 to be dropped")
	}
	refs, _ := m.Bucket(2)
	if len(refs) != 1 || refs[0].ConnectionID != other {
		t.Errorf("Expected only the unrelated ref to remain, got %+v", refs)
	}
	if n := m.RemoveByConnection(shared); n != 0 {
		t.Errorf("Second purge should remove nothing, removed %d", n)
	}
}

func TestContactConnectionsSkipsOwnBucket(t *testing.T) {
	m := newTestManager()
	own, viewerA, viewerB, unrelated := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	m.AddRef(100, 100, own)
	m.AddRef(200, 100, viewerA)
	m.AddRef(300, 100, viewerB)
	m.AddRef(300, 400, unrelated)

	conns := m.ContactConnections(100)
	if len(conns) != 2 {
		t.Fatalf("Expected 2 connections, got %d", len(conns))
	}
	seen := map[uuid.UUID]bool{}
	for _, c := range conns {
		seen[c] = true
	}
	if !seen[viewerA] || !seen[viewerB] {
		t.Errorf("Expected both viewer connections, got %v", conns)
	}
	if seen[own] || seen[unrelated] {
		t.Errorf("Own or unrelated connection leaked into fan-out: %v", conns)
	}
}

func TestBucketReturnsCopy(t *testing.T) {
	m := newTestManager()
	m.AddRef(1, 1, uuid.New())

	refs, _ := m.Bucket(1)
	refs[0].ContactID = 42

	again, _ := m.Bucket(1)
	if again[0].ContactID != 1 {
		t.Error("Mutating a bucket snapshot changed the index")
	}
}
