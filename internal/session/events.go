package session

import (
	"time"

	"docintake/internal/models"
)

// EventKind names a session lifecycle change.
type EventKind string

const (
	EventCreated        EventKind = "created"
	EventStatus         EventKind = "status"
	EventClassification EventKind = "classification"
	EventEdit           EventKind = "edit"
	EventExpired        EventKind = "expired"
)

// Event describes a change to a session. It never carries document content.
type Event struct {
	Kind      EventKind
	SessionID string
	Status    models.Status
	Documents int
	At        time.Time
}

// Observer is notified after each change. Mutation events are delivered
// while the session's lock is held, so they arrive in the order they were
// applied. Observe must not block and must not call back into the Store.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

type nopObserver struct{}

func (nopObserver) Observe(Event) {}
