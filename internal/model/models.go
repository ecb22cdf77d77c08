// Package model defines the entities shared by ingestion, matching and outreach.
package model

import (
	"fmt"
	"strings"
	"time"
)

// QueueAdmissionScore is the minimum score at which a freshly computed match
// enters the review queue without a manual decision.
const QueueAdmissionScore = 80

// Posting is a job advertisement sourced from an external platform.
type Posting struct {
	ID           string    `json:"id"`
	ExternalID   string    `json:"externalId"`
	Title        string    `json:"title"`
	Company      string    `json:"company"`
	Location     string    `json:"location"`
	Description  string    `json:"description,omitempty"`
	Requirements string    `json:"requirements,omitempty"`
	SalaryMin    *int      `json:"salaryMin,omitempty"`
	SalaryMax    *int      `json:"salaryMax,omitempty"`
	Platform     string    `json:"platform"`
	SourceURL    string    `json:"sourceUrl"`
	ScrapedAt    time.Time `json:"scrapedAt"`
	IsActive     bool      `json:"isActive"`
	Embedding    []float32 `json:"-"`
}

// EmbeddingText is the text an embedding is computed from.
func (p *Posting) EmbeddingText() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{p.Title, p.Description, p.Requirements} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// ExternalID builds the source-qualified identifier of a posting.
func ExternalID(platform, id string) string {
	return fmt.Sprintf("%s:%s", strings.ToLower(strings.TrimSpace(platform)), strings.TrimSpace(id))
}

// Profile is the candidate's digital profile. One per user.
type Profile struct {
	UserID      string         `json:"userId"`
	FullName    string         `json:"fullName,omitempty"`
	Email       string         `json:"email,omitempty"`
	Skills      []string       `json:"skills"`
	Experience  string         `json:"experience"`
	Education   string         `json:"education"`
	CareerGoals string         `json:"careerGoals"`
	Preferences map[string]any `json:"preferences,omitempty"`
}

// MatchStatus is the human review state of a match.
type MatchStatus string

const (
	MatchPending  MatchStatus = "Pending"
	MatchApproved MatchStatus = "Approved"
	MatchRejected MatchStatus = "Rejected"
)

// Match is the scored relationship between one profile and one posting.
type Match struct {
	ID           string      `json:"id"`
	UserID       string      `json:"userId"`
	PostingID    string      `json:"postingId"`
	Score        int         `json:"matchScore"`
	Reasoning    string      `json:"reasoning"`
	SkillGaps    []string    `json:"skillGaps"`
	Status       MatchStatus `json:"status"`
	IsInQueue    bool        `json:"isInQueue"`
	CalculatedAt time.Time   `json:"calculatedAt"`
}

// ActionType names a rate-limited outbound action.
type ActionType string

const (
	ActionConnectionRequest ActionType = "ConnectionRequest"
	ActionMessageSent       ActionType = "MessageSent"
)

// ParseActionType converts a raw string to an ActionType.
func ParseActionType(s string) (ActionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "connectionrequest", "connection", "connection_request":
		return ActionConnectionRequest, nil
	case "messagesent", "message", "message_sent":
		return ActionMessageSent, nil
	}
	return "", fmt.Errorf("unknown action type %q", s)
}

// ThrottleEvent records one rate-limited action. The ledger is append-only.
type ThrottleEvent struct {
	ID         string     `json:"id"`
	UserID     string     `json:"userId"`
	ActionType ActionType `json:"actionType"`
	Platform   string     `json:"platform"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Application is the outreach artifact tied to an approved match.
type Application struct {
	ID        string            `json:"id"`
	UserID    string            `json:"userId"`
	MatchID   string            `json:"matchId"`
	Status    ApplicationStatus `json:"status"`
	SentAt    *time.Time        `json:"sentAt,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// AuditEntry is one line of an application's compliance trail.
type AuditEntry struct {
	ID            string            `json:"id"`
	ApplicationID string            `json:"applicationId"`
	Action        string            `json:"action"`
	From          ApplicationStatus `json:"from,omitempty"`
	To            ApplicationStatus `json:"to,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	At            time.Time         `json:"at"`
}

// DayWindow returns the UTC calendar day containing t as [start, end).
func DayWindow(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}
