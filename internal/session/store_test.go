package session

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docintake/internal/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, ttl time.Duration, opts ...Option) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s, err := NewStore(ttl, append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return s, clock
}

func sampleDocs() []models.ParsedDocument {
	return []models.ParsedDocument{
		{Index: 7, Filename: "a.md", Format: models.FormatMarkdown, Content: "hello", WordCount: 1, ParseErrors: []string{}},
		{Index: 9, Filename: "b.json", Format: models.FormatJSON, ParseErrors: []string{"invalid JSON"}},
	}
}

func TestNewStoreRequiresTTL(t *testing.T) {
	_, err := NewStore(0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestCreate(t *testing.T) {
	s, clock := newTestStore(t, 30*time.Minute)
	se := s.Create(sampleDocs())

	assert.NotEmpty(t, se.ID)
	assert.Equal(t, models.StatusUploaded, se.Status)
	assert.Equal(t, clock.Now(), se.CreatedAt)
	assert.Equal(t, clock.Now().Add(30*time.Minute), se.ExpiresAt)
	assert.Empty(t, se.Classifications)
	assert.Empty(t, se.UserEdits)
	require.Len(t, se.Documents, 2)
	for i, d := range se.Documents {
		assert.Equal(t, i, d.Index)
	}

	other := s.Create(nil)
	assert.NotEqual(t, se.ID, other.ID)
	assert.Equal(t, 2, s.Len())
}

func TestGetReturnsSnapshot(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)
	se := s.Create(sampleDocs())

	got, err := s.Get(se.ID)
	require.NoError(t, err)
	got.Documents[0].Content = "mutated"
	got.Documents[1].ParseErrors[0] = "mutated"

	again, err := s.Get(se.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", again.Documents[0].Content)
	assert.Equal(t, "invalid JSON", again.Documents[1].ParseErrors[0])
}

func TestGetUnknown(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)
	_, err := s.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUpdateStatusForwardOnly(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)
	se := s.Create(sampleDocs())

	got, err := s.UpdateStatus(se.ID, models.StatusReviewing)
	require.NoError(t, err)
	assert.Equal(t, models.StatusReviewing, got.Status)

	_, err = s.UpdateStatus(se.ID, models.StatusReviewing)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = s.UpdateStatus(se.ID, models.StatusCommitted)
	require.NoError(t, err)

	_, err = s.UpdateStatus(se.ID, models.StatusReviewing)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	cur, err := s.Get(se.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCommitted, cur.Status)
}

func TestUpdateStatusRejectsUnknownStatus(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)
	se := s.Create(nil)
	_, err := s.UpdateStatus(se.ID, "archived")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestAppends(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)
	se := s.Create(sampleDocs())

	_, err := s.AppendClassification(se.ID, models.ClassificationSuggestion{Index: 0, Suggestion: json.RawMessage(`{"label":"invoice"}`)})
	require.NoError(t, err)
	got, err := s.AppendUserEdit(se.ID, models.UserEdit{Index: 1, Edit: json.RawMessage(`{"label":"receipt"}`)})
	require.NoError(t, err)

	require.Len(t, got.Classifications, 1)
	assert.JSONEq(t, `{"label":"invoice"}`, string(got.Classifications[0].Suggestion))
	require.Len(t, got.UserEdits, 1)
	assert.Equal(t, 1, got.UserEdits[0].Index)

	_, err = s.AppendUserEdit(se.ID, models.UserEdit{Index: 2, Edit: json.RawMessage(`{}`)})
	assert.ErrorIs(t, err, ErrUnknownDocument)
	_, err = s.AppendClassification("missing", models.ClassificationSuggestion{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLazyExpiry(t *testing.T) {
	s, clock := newTestStore(t, time.Minute)
	se := s.Create(sampleDocs())

	clock.Advance(time.Minute)
	_, err := s.Get(se.ID)
	require.NoError(t, err, "expiry is exclusive of expiresAt")

	clock.Advance(time.Nanosecond)
	_, err = s.Get(se.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.UpdateStatus(se.ID, models.StatusReviewing)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.AppendUserEdit(se.ID, models.UserEdit{Index: 0})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.Equal(t, 1, s.Len(), "entry stays until swept")
}

func TestAccessDoesNotExtendTTL(t *testing.T) {
	s, clock := newTestStore(t, time.Minute)
	se := s.Create(nil)

	clock.Advance(50 * time.Second)
	got, err := s.UpdateStatus(se.ID, models.StatusReviewing)
	require.NoError(t, err)
	assert.Equal(t, se.ExpiresAt, got.ExpiresAt)

	clock.Advance(11 * time.Second)
	_, err = s.Get(se.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestObserverEvents(t *testing.T) {
	var (
		mu     sync.Mutex
		events []Event
	)
	obs := ObserverFunc(func(e Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})
	s, clock := newTestStore(t, time.Minute, WithObserver(obs))

	se := s.Create(sampleDocs())
	_, err := s.UpdateStatus(se.ID, models.StatusReviewing)
	require.NoError(t, err)
	_, err = s.UpdateStatus(se.ID, models.StatusUploaded)
	require.Error(t, err)
	clock.Advance(2 * time.Minute)
	s.SweepExpired()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	assert.Equal(t, EventCreated, events[0].Kind)
	assert.Equal(t, 2, events[0].Documents)
	assert.Equal(t, EventStatus, events[1].Kind)
	assert.Equal(t, models.StatusReviewing, events[1].Status)
	assert.Equal(t, EventExpired, events[2].Kind)
	assert.Equal(t, se.ID, events[2].SessionID)
}

func TestConcurrentMutations(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)
	se := s.Create(sampleDocs())
	other := s.Create(sampleDocs())

	const workers = 16
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		transitions int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = s.AppendUserEdit(se.ID, models.UserEdit{Index: i % 2, Edit: json.RawMessage(`{}`)})
			_, _ = s.AppendClassification(other.ID, models.ClassificationSuggestion{Index: 0})
			if _, err := s.UpdateStatus(se.ID, models.StatusClassified); err == nil {
				mu.Lock()
				transitions++
				mu.Unlock()
			} else if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("unexpected error: %v", err)
			}
			_, _ = s.Get(se.ID)
		}(i)
	}
	wg.Wait()

	got, err := s.Get(se.ID)
	require.NoError(t, err)
	assert.Len(t, got.UserEdits, workers)
	assert.Equal(t, models.StatusClassified, got.Status)
	assert.Equal(t, 1, transitions)

	o, err := s.Get(other.ID)
	require.NoError(t, err)
	assert.Len(t, o.Classifications, workers)
}

func TestObserverSeesMutationsInOrder(t *testing.T) {
	var statuses []models.Status
	obs := ObserverFunc(func(e Event) {
		if e.Kind == EventStatus {
			statuses = append(statuses, e.Status)
		}
	})
	s, _ := newTestStore(t, time.Hour, WithObserver(obs))

	for round := 0; round < 50; round++ {
		statuses = statuses[:0]
		se := s.Create(nil)
		targets := []models.Status{models.StatusCommitted, models.StatusClassified, models.StatusReviewing}
		var wg sync.WaitGroup
		for _, target := range targets {
			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func(target models.Status) {
					defer wg.Done()
					_, _ = s.UpdateStatus(se.ID, target)
				}(target)
			}
		}
		wg.Wait()

		got, err := s.Get(se.ID)
		require.NoError(t, err)
		require.NotEmpty(t, statuses)
		for i := 1; i < len(statuses); i++ {
			assert.True(t, statuses[i-1].Precedes(statuses[i]), "events out of order: %v", statuses)
		}
		assert.Equal(t, got.Status, statuses[len(statuses)-1])
	}
}
