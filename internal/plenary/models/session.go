package models

import (
	"strings"
	"time"

	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
)

// Session is a sitting of the chamber. It owns an agenda and an attendance
// sheet.
type Session struct {
	ID           id.SessionID `json:"id"`
	Title        string       `json:"title"`
	ScheduledFor time.Time    `json:"scheduled_for"`
	CreatedAt    time.Time    `json:"created_at"`
}

func NewSession(sessionID id.SessionID, title string, scheduledFor, now time.Time) (*Session, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "session title is required")
	}
	if scheduledFor.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "scheduled_for is required")
	}
	return &Session{ID: sessionID, Title: title, ScheduledFor: scheduledFor, CreatedAt: now}, nil
}
