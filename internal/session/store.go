package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"docintake/internal/models"
)

type entry struct {
	mu        sync.Mutex
	expiresAt time.Time
	session   *models.Session
}

// Store is an in-memory registry of review sessions. Sessions expire a fixed
// TTL after creation; expired sessions are unreachable even before a sweep
// removes them.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	order    []string // ids in creation order, which is expiry order
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
	observer Observer
}

type Option func(*Store)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver registers a receiver for lifecycle events.
func WithObserver(o Observer) Option {
	return func(s *Store) {
		if o != nil {
			s.observer = o
		}
	}
}

func NewStore(ttl time.Duration, opts ...Option) (*Store, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}
	s := &Store{
		entries:  make(map[string]*entry),
		ttl:      ttl,
		now:      time.Now,
		logger:   slog.Default(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL returns the lifetime given to new sessions.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create stores documents in a new session with status uploaded. Document
// indexes are rewritten to match their position.
func (s *Store) Create(documents []models.ParsedDocument) *models.Session {
	se := &models.Session{
		ID:              uuid.NewString(),
		Documents:       make([]models.ParsedDocument, len(documents)),
		Classifications: []models.ClassificationSuggestion{},
		UserEdits:       []models.UserEdit{},
		Status:          models.StatusUploaded,
	}
	copy(se.Documents, documents)
	se = se.Clone()
	for i := range se.Documents {
		se.Documents[i].Index = i
	}

	s.mu.Lock()
	now := s.now().UTC()
	se.CreatedAt = now
	se.ExpiresAt = now.Add(s.ttl)
	s.entries[se.ID] = &entry{expiresAt: se.ExpiresAt, session: se}
	s.order = append(s.order, se.ID)
	s.mu.Unlock()

	s.logger.Debug("session created", "session", se.ID, "documents", len(se.Documents), "expires_at", se.ExpiresAt)
	s.observer.Observe(Event{Kind: EventCreated, SessionID: se.ID, Status: se.Status, Documents: len(se.Documents), At: now})
	return se.Clone()
}

// Get returns a snapshot of the session, or ErrSessionNotFound when id is
// unknown or expired.
func (s *Store) Get(id string) (*models.Session, error) {
	var out *models.Session
	err := s.with(id, func(se *models.Session) error {
		out = se.Clone()
		return nil
	})
	return out, err
}

// UpdateStatus moves the session forward to status. Moving backwards or
// staying put fails with ErrInvalidTransition and leaves the session as is.
func (s *Store) UpdateStatus(id string, status models.Status) (*models.Session, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	var out *models.Session
	err := s.with(id, func(se *models.Session) error {
		if !se.Status.Precedes(status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, se.Status, status)
		}
		se.Status = status
		out = se.Clone()
		s.observer.Observe(Event{Kind: EventStatus, SessionID: id, Status: status, Documents: len(se.Documents), At: s.now().UTC()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendClassification records a classifier suggestion for one document.
func (s *Store) AppendClassification(id string, c models.ClassificationSuggestion) (*models.Session, error) {
	c.Suggestion = append([]byte(nil), c.Suggestion...)
	var out *models.Session
	err := s.with(id, func(se *models.Session) error {
		if err := checkIndex(se, c.Index); err != nil {
			return err
		}
		se.Classifications = append(se.Classifications, c)
		out = se.Clone()
		s.observer.Observe(Event{Kind: EventClassification, SessionID: id, Status: se.Status, Documents: len(se.Documents), At: s.now().UTC()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AppendUserEdit records a user correction for one document.
func (s *Store) AppendUserEdit(id string, e models.UserEdit) (*models.Session, error) {
	e.Edit = append([]byte(nil), e.Edit...)
	var out *models.Session
	err := s.with(id, func(se *models.Session) error {
		if err := checkIndex(se, e.Index); err != nil {
			return err
		}
		se.UserEdits = append(se.UserEdits, e)
		out = se.Clone()
		s.observer.Observe(Event{Kind: EventEdit, SessionID: id, Status: se.Status, Documents: len(se.Documents), At: s.now().UTC()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Len reports how many entries are held, expired ones included.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// with runs fn on the live session while holding its entry lock. The
// registry lock is only held for the map lookup.
func (s *Store) with(id string, fn func(*models.Session) error) error {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if s.now().After(e.expiresAt) {
		return ErrSessionNotFound
	}
	return fn(e.session)
}

func checkIndex(se *models.Session, index int) error {
	if index < 0 || index >= len(se.Documents) {
		return fmt.Errorf("%w: %d (session has %d documents)", ErrUnknownDocument, index, len(se.Documents))
	}
	return nil
}
