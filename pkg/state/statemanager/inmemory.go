package statemanager

import (
	"log/slog"
	"time"

	"github.com/a-essam23/chirp-relay/pkg/state"
	"github.com/google/uuid"
)

// InMemoryManager keeps sessions and buckets in plain maps. It has no locks:
// the relay core is its single owner.
type InMemoryManager struct {
	sessions map[uuid.UUID]*state.Session
	buckets  map[state.UserID][]state.ConnectionRef

	now    func() time.Time
	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		sessions: make(map[uuid.UUID]*state.Session),
		buckets:  make(map[state.UserID][]state.ConnectionRef),
		now:      time.Now,
		logger:   logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

// --- Session Registry ---

func (m *InMemoryManager) Register(connID uuid.UUID, identity state.Identity, reply state.Sender) *state.Session {
	if existing, ok := m.sessions[connID]; ok {
		existing.Identity = identity
		existing.Reply = reply
		m.logger.Debug("Session overwritten", slog.String("connID", connID.String()), slog.Any("userID", identity.UserID))
		return existing
	}
	s := &state.Session{
		ID:        connID,
		Identity:  identity,
		Reply:     reply,
		CreatedAt: m.now(),
	}
	m.sessions[connID] = s
	m.logger.Debug("Session registered", slog.String("connID", connID.String()))
	return s
}

func (m *InMemoryManager) UpdateIdentity(connID uuid.UUID, identity state.Identity) error {
	s, ok := m.sessions[connID]
	if !ok {
		m.logger.Warn("Cannot update identity of unknown connection", slog.String("connID", connID.String()))
		return state.ErrUnknownConnection
	}
	s.Identity = identity
	return nil
}

func (m *InMemoryManager) Lookup(connID uuid.UUID) (state.Identity, bool) {
	s, ok := m.sessions[connID]
	if !ok {
		return state.Identity{}, false
	}
	return s.Identity, true
}

func (m *InMemoryManager) Session(connID uuid.UUID) (*state.Session, bool) {
	s, ok := m.sessions[connID]
	return s, ok
}

func (m *InMemoryManager) Remove(connID uuid.UUID) (*state.Session, bool) {
	s, ok := m.sessions[connID]
	if !ok {
		// session is already removed
		return nil, false
	}
	delete(m.sessions, connID)
	m.logger.Debug("Session removed", slog.String("connID", connID.String()))
	return s, true
}

func (m *InMemoryManager) SessionCount() int {
	return len(m.sessions)
}

// --- Connection Index ---

func (m *InMemoryManager) AddRef(owner, contact state.UserID, connID uuid.UUID) bool {
	ref := state.ConnectionRef{ContactID: contact, ConnectionID: connID}
	for _, existing := range m.buckets[owner] {
		if existing == ref {
			return false
		}
	}
	m.buckets[owner] = append(m.buckets[owner], ref)
	m.logger.Debug("Connection ref added",
		slog.Any("owner", owner),
		slog.Any("contact", contact),
		slog.String("connID", connID.String()),
	)
	return true
}

func (m *InMemoryManager) FindByContact(owner, contact state.UserID) (uuid.UUID, bool) {
	for _, ref := range m.buckets[owner] {
		if ref.ContactID == contact {
			return ref.ConnectionID, true
		}
	}
	return uuid.Nil, false
}

func (m *InMemoryManager) RemoveByConnection(connID uuid.UUID) int {
	removed := 0
	for owner, refs := range m.buckets {
		kept := refs[:0]
		for _, ref := range refs {
			if ref.ConnectionID == connID {
				removed++
				continue
			}
			kept = append(kept, ref)
		}
		// For memory hygiene, drop the bucket once it is empty.
		if len(kept) == 0 {
			delete(m.buckets, owner)
			continue
		}
		m.buckets[owner] = kept
	}
	if removed > 0 {
		m.logger.Debug("Purged connection refs", slog.String("connID", connID.String()), slog.Int("count", removed))
	}
	return removed
}

func (m *InMemoryManager) Bucket(owner state.UserID) ([]state.ConnectionRef, bool) {
	refs, ok := m.buckets[owner]
	if !ok {
		return nil, false
	}
	out := make([]state.ConnectionRef, len(refs))
	copy(out, refs)
	return out, true
}

func (m *InMemoryManager) ContactConnections(contact state.UserID) []uuid.UUID {
	var conns []uuid.UUID
	for owner, refs := range m.buckets {
		if owner == contact {
			continue
		}
		for _, ref := range refs {
			if ref.ContactID == contact {
				conns = append(conns, ref.ConnectionID)
			}
		}
	}
	return conns
}
