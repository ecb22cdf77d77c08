package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/spigell/jobpilot/internal/model"
)

var allStatuses = []model.ApplicationStatus{
	model.StatusDraft, model.StatusApproved, model.StatusSent, model.StatusDelivered,
	model.StatusFailed, model.StatusRejected, model.StatusCancelled,
	model.StatusResponded, model.StatusExpired, model.StatusRetry,
}

func TestParseApplicationStatus(t *testing.T) {
	for _, s := range allStatuses {
		got, err := model.ParseApplicationStatus(string(s))
		if err != nil {
			t.Errorf("ParseApplicationStatus(%q) returned unexpected error: %v", s, err)
		}
		if got != s {
			t.Errorf("ParseApplicationStatus(%q) = %q", s, got)
		}
	}

	if _, err := model.ParseApplicationStatus("SENT"); err == nil {
		t.Error("ParseApplicationStatus is case sensitive, expected error for SENT")
	}
	if _, err := model.ParseApplicationStatus(""); err == nil {
		t.Error("ParseApplicationStatus(\"\") expected error, got nil")
	}
}

// Sent must only be reachable from Approved.
func TestIsTransitionAllowed_SentOnlyFromApproved(t *testing.T) {
	for _, from := range allStatuses {
		got := model.IsTransitionAllowed(from, model.StatusSent)
		want := from == model.StatusApproved
		if got != want {
			t.Errorf("IsTransitionAllowed(%s -> Sent) = %v, want %v", from, got, want)
		}
	}
}

func TestIsTransitionAllowed_Forward(t *testing.T) {
	cases := []struct {
		from model.ApplicationStatus
		to   model.ApplicationStatus
	}{
		{model.StatusDraft, model.StatusApproved},
		{model.StatusDraft, model.StatusRejected},
		{model.StatusDraft, model.StatusCancelled},
		{model.StatusApproved, model.StatusSent},
		{model.StatusApproved, model.StatusCancelled},
		{model.StatusSent, model.StatusDelivered},
		{model.StatusSent, model.StatusFailed},
		{model.StatusDelivered, model.StatusResponded},
		{model.StatusDelivered, model.StatusExpired},
		{model.StatusFailed, model.StatusRetry},
		{model.StatusRetry, model.StatusApproved},
	}
	for _, c := range cases {
		if !model.IsTransitionAllowed(c.from, c.to) {
			t.Errorf("IsTransitionAllowed(%s -> %s) should be true", c.from, c.to)
		}
	}
}

func TestIsTransitionAllowed_FromTerminal(t *testing.T) {
	for _, from := range []model.ApplicationStatus{model.StatusRejected, model.StatusCancelled, model.StatusResponded, model.StatusExpired} {
		if !model.IsTerminal(from) {
			t.Errorf("IsTerminal(%s) should be true", from)
		}
		for _, to := range allStatuses {
			if model.IsTransitionAllowed(from, to) {
				t.Errorf("IsTransitionAllowed(%s -> %s) should be false (terminal state)", from, to)
			}
		}
	}
}

func TestIsTransitionAllowed_Self(t *testing.T) {
	for _, s := range allStatuses {
		if model.IsTransitionAllowed(s, s) {
			t.Errorf("IsTransitionAllowed(%s -> %s) should be false (self)", s, s)
		}
	}
}

func TestInvalidTransitionError(t *testing.T) {
	var err error = &model.InvalidTransitionError{ApplicationID: "a1", From: model.StatusDraft, To: model.StatusSent}

	var target *model.InvalidTransitionError
	if !errors.As(err, &target) {
		t.Fatal("expected errors.As to match InvalidTransitionError")
	}
	if target.From != model.StatusDraft || target.To != model.StatusSent {
		t.Fatalf("unexpected error payload: %+v", target)
	}
	if !errors.Is(model.NotFoundError("posting", "p1"), model.ErrNotFound) {
		t.Fatal("NotFoundError must wrap ErrNotFound")
	}
}

func TestDayWindow(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	// 01:30 at UTC+3 is 22:30 UTC of the previous day.
	start, end := model.DayWindow(time.Date(2026, 3, 10, 1, 30, 0, 0, loc))

	if want := time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Fatalf("start = %s, want %s", start, want)
	}
	if !end.Equal(start.Add(24 * time.Hour)) {
		t.Fatalf("end = %s, want start+24h", end)
	}
}

func TestPostingEmbeddingText(t *testing.T) {
	p := &model.Posting{Title: " Go Developer ", Description: "", Requirements: "Kubernetes"}
	if got := p.EmbeddingText(); got != "Go Developer\nKubernetes" {
		t.Fatalf("unexpected embedding text %q", got)
	}
	if got := model.ExternalID(" LinkedIn ", "999"); got != "linkedin:999" {
		t.Fatalf("unexpected external id %q", got)
	}
}
