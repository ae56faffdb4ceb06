package session

import (
	"time"

	"docintake/internal/models"
)

// View is the wire form of a session.
type View struct {
	ID              string                            `json:"id"`
	Documents       []models.ParsedDocument           `json:"documents"`
	Classifications []models.ClassificationSuggestion `json:"classifications"`
	UserEdits       []models.UserEdit                 `json:"userEdits"`
	Status          models.Status                     `json:"status"`
	CreatedAt       string                            `json:"createdAt"`
	ExpiresAt       string                            `json:"expiresAt"`
}

// Serialize renders a session for clients. A nil session stays nil so a
// missing session is never turned into an empty object.
func Serialize(se *models.Session) *View {
	if se == nil {
		return nil
	}
	se = se.Clone()
	return &View{
		ID:              se.ID,
		Documents:       se.Documents,
		Classifications: se.Classifications,
		UserEdits:       se.UserEdits,
		Status:          se.Status,
		CreatedAt:       formatTime(se.CreatedAt),
		ExpiresAt:       formatTime(se.ExpiresAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
