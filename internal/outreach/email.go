package outreach

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/spigell/jobpilot/internal/model"
)

// ErrNoRecipient is returned when no address can be found for a posting.
var ErrNoRecipient = errors.New("no recipient address for posting")

// Email is one outbound message sent on behalf of a candidate.
type Email struct {
	FromName string
	To       string
	ReplyTo  string
	Subject  string
	Body     string
}

// EmailSender delivers an email and returns the provider message id.
type EmailSender interface {
	Send(ctx context.Context, email Email) (string, error)
}

// RecipientResolver finds who should receive the application for a posting.
type RecipientResolver interface {
	Recipient(ctx context.Context, posting *model.Posting) (string, error)
}

var emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

// PostingContact takes the first valid address mentioned in the posting text.
type PostingContact struct{}

func (PostingContact) Recipient(_ context.Context, posting *model.Posting) (string, error) {
	for _, text := range []string{posting.Description, posting.Requirements} {
		for _, candidate := range emailPattern.FindAllString(text, -1) {
			addr, err := mail.ParseAddress(strings.TrimRight(candidate, "."))
			if err == nil {
				return addr.Address, nil
			}
		}
	}
	return "", fmt.Errorf("posting %s: %w", posting.ID, ErrNoRecipient)
}

// SESAPI is the part of the SES client used by SESSender.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESSender sends emails through Amazon SES from a verified address.
type SESSender struct {
	client SESAPI
	from   string
}

var _ EmailSender = (*SESSender)(nil)

// NewSESSender loads the default AWS configuration for region.
func NewSESSender(ctx context.Context, region, from string) (*SESSender, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSESSenderFromClient(ses.NewFromConfig(cfg), from), nil
}

func NewSESSenderFromClient(client SESAPI, from string) *SESSender {
	return &SESSender{client: client, from: from}
}

func (s *SESSender) source(name string) string {
	if strings.TrimSpace(name) == "" {
		return s.from
	}
	return (&mail.Address{Name: name, Address: s.from}).String()
}

func (s *SESSender) Send(ctx context.Context, email Email) (string, error) {
	if strings.TrimSpace(email.To) == "" {
		return "", ErrNoRecipient
	}
	if strings.TrimSpace(s.from) == "" {
		return "", errors.New("sender address is not configured")
	}

	input := &ses.SendEmailInput{
		Source: aws.String(s.source(email.FromName)),
		Destination: &types.Destination{
			ToAddresses: []string{email.To},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(email.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(email.Body), Charset: aws.String("UTF-8")},
			},
		},
	}
	if email.ReplyTo != "" {
		input.ReplyToAddresses = []string{email.ReplyTo}
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", fmt.Errorf("ses send email: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}
