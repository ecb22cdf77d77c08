package gemini

import (
	"context"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/model"
)

func TestComposerCompose(t *testing.T) {
	stub := &stubGenerator{response: "Subject: Go Developer at Acme\n\nHello team,\nI build Go services.\nJane Doe"}
	composer := NewComposer(stub, 0, zap.NewNop())

	profile := testProfile()
	profile.Preferences["tone"] = "Formal"

	msg, err := composer.Compose(context.Background(), profile, testPosting())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Subject != "Go Developer at Acme" {
		t.Fatalf("unexpected subject: %q", msg.Subject)
	}
	if !strings.HasPrefix(msg.Body, "Hello team,") || strings.Contains(msg.Body, "Subject:") {
		t.Fatalf("unexpected body: %q", msg.Body)
	}
	if !strings.Contains(stub.lastPrompt, "- Tone: Formal") {
		t.Fatalf("expected tone from preferences in prompt")
	}
	if !strings.Contains(stub.lastPrompt, "hiring team of Acme") {
		t.Fatalf("expected company in prompt")
	}
	if !strings.Contains(stub.lastSystem, "job application emails") {
		t.Fatalf("unexpected system instruction: %q", stub.lastSystem)
	}
}

func TestComposerDefaultsTone(t *testing.T) {
	stub := &stubGenerator{response: "Hi"}
	composer := NewComposer(stub, 0, zap.NewNop())

	profile := &model.Profile{UserID: "u1"}
	if _, err := composer.Compose(context.Background(), profile, testPosting()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stub.lastPrompt, "- Tone: Friendly") {
		t.Fatalf("expected default tone")
	}
	if !strings.Contains(stub.lastPrompt, "candidate name: the candidate") {
		t.Fatalf("expected placeholder candidate name")
	}
}

func TestParseMessage(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		subject string
		body    string
	}{
		{
			name:    "plain subject",
			raw:     "Subject: Hello\n\nBody text",
			subject: "Hello",
			body:    "Body text",
		},
		{
			name:    "markdown subject",
			raw:     "**Subject:** Interested in the role\n\nDear team",
			subject: "Interested in the role",
			body:    "Dear team",
		},
		{
			name:    "no subject",
			raw:     "Dear team,\nI am interested.",
			subject: "Application for Go Developer",
			body:    "Dear team,\nI am interested.",
		},
		{
			name:    "empty subject",
			raw:     "Subject:\nDear team",
			subject: "Application for Go Developer",
			body:    "Subject:\nDear team",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			msg := ParseMessage(tc.raw, "Go Developer")
			if msg.Subject != tc.subject {
				t.Fatalf("subject: want %q, got %q", tc.subject, msg.Subject)
			}
			if msg.Body != tc.body {
				t.Fatalf("body: want %q, got %q", tc.body, msg.Body)
			}
		})
	}

	if DefaultSubject(" ") != "Application" {
		t.Fatal("unexpected default subject for empty title")
	}
}
