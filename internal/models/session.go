package models

import (
	"encoding/json"
	"time"
)

// Status is the review stage of a session.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusReviewing  Status = "reviewing"
	StatusClassified Status = "classified"
	StatusCommitted  Status = "committed"
)

var statusRank = map[Status]int{
	StatusUploaded:   0,
	StatusReviewing:  1,
	StatusClassified: 2,
	StatusCommitted:  3,
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// Precedes reports whether next is strictly later than s in the review flow.
func (s Status) Precedes(next Status) bool {
	cur, ok := statusRank[s]
	if !ok {
		return false
	}
	nxt, ok := statusRank[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// ClassificationSuggestion is produced by an external classifier for the
// document at Index. The payload is stored as received.
type ClassificationSuggestion struct {
	Index      int             `json:"index"`
	Suggestion json.RawMessage `json:"suggestion"`
}

// UserEdit is a user correction for the document at Index.
type UserEdit struct {
	Index int             `json:"index"`
	Edit  json.RawMessage `json:"edit"`
}

// Session holds one uploaded batch and its review state.
type Session struct {
	ID              string
	Documents       []ParsedDocument
	Classifications []ClassificationSuggestion
	UserEdits       []UserEdit
	Status          Status
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// Expired reports whether the session is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Documents = make([]ParsedDocument, len(s.Documents))
	for i, d := range s.Documents {
		errs := make([]string, len(d.ParseErrors))
		copy(errs, d.ParseErrors)
		d.ParseErrors = errs
		out.Documents[i] = d
	}
	out.Classifications = make([]ClassificationSuggestion, len(s.Classifications))
	for i, c := range s.Classifications {
		c.Suggestion = append(json.RawMessage(nil), c.Suggestion...)
		out.Classifications[i] = c
	}
	out.UserEdits = make([]UserEdit, len(s.UserEdits))
	for i, e := range s.UserEdits {
		e.Edit = append(json.RawMessage(nil), e.Edit...)
		out.UserEdits[i] = e
	}
	return &out
}
