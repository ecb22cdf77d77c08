package outreach

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/ai"
	"github.com/spigell/jobpilot/internal/logger"
	"github.com/spigell/jobpilot/internal/metrics"
	"github.com/spigell/jobpilot/internal/model"
)

// target is everything a channel needs to deliver one application.
type target struct {
	app     *model.Application
	match   *model.Match
	posting *model.Posting
	profile *model.Profile
}

func (s *Service) load(ctx context.Context, appID string) (*target, error) {
	app, err := s.store.GetApplication(ctx, appID)
	if err != nil {
		return nil, err
	}
	m, err := s.store.GetMatch(ctx, app.MatchID)
	if err != nil {
		return nil, err
	}
	posting, err := s.store.GetPosting(ctx, m.PostingID)
	if err != nil {
		return nil, err
	}
	profile, err := s.store.GetProfile(ctx, app.UserID)
	if err != nil {
		return nil, err
	}
	return &target{app: app, match: m, posting: posting, profile: profile}, nil
}

// deliver returns the audit action and notes describing a successful send.
type deliver func(ctx context.Context, t *target) (action, notes string, err error)

// send wraps a channel with the approval gate, the audit trail and the final
// transition. The status changes only when delivery and transition succeed.
func (s *Service) send(ctx context.Context, channel, appID string, fn deliver) (*model.Application, error) {
	log := s.logger.With(zap.String(logger.FieldApplicationID, appID), zap.String("channel", channel))

	t, err := s.load(ctx, appID)
	if err != nil {
		return nil, err
	}

	// The audit trail and the final transition survive cancellation of ctx.
	auditCtx := context.WithoutCancel(ctx)

	if t.app.Status != model.StatusApproved {
		metrics.OutreachResults.WithLabelValues(channel, "not_approved").Inc()
		err := fmt.Errorf("application %s is %s: %w", appID, t.app.Status, ErrNotApproved)
		s.audit(auditCtx, appID, AuditError, err.Error())
		log.Warn("send refused", zap.String("status", string(t.app.Status)))
		return nil, err
	}

	action, notes, err := fn(ctx, t)
	if err != nil {
		if errors.Is(err, ErrQueued) {
			metrics.OutreachResults.WithLabelValues(channel, "deferred").Inc()
			s.audit(auditCtx, appID, AuditDeferred, err.Error())
			s.notify(auditCtx, Event{Type: EventDeferred, UserID: t.app.UserID, ApplicationID: appID, Notes: err.Error(), At: s.now()})
			log.Info("send deferred", zap.Error(err))
			return nil, err
		}
		return nil, s.fail(auditCtx, log, channel, t, err)
	}
	s.audit(auditCtx, appID, action, notes)

	updated, err := s.UpdateApplicationStatus(auditCtx, appID, model.StatusSent, "sent via "+channel)
	if err != nil {
		return nil, s.fail(auditCtx, log, channel, t, err)
	}

	metrics.OutreachResults.WithLabelValues(channel, "sent").Inc()
	log.Info("application sent", zap.String(logger.FieldPostingID, t.posting.ID))
	return updated, nil
}

func (s *Service) fail(ctx context.Context, log *zap.Logger, channel string, t *target, err error) error {
	metrics.OutreachResults.WithLabelValues(channel, "failed").Inc()
	s.audit(ctx, t.app.ID, AuditError, err.Error())
	s.notify(ctx, Event{Type: EventSendFailed, UserID: t.app.UserID, ApplicationID: t.app.ID, Notes: err.Error(), At: s.now()})
	log.Error("send failed", zap.Error(err))
	return err
}

func (s *Service) compose(ctx context.Context, t *target) (*ai.Message, error) {
	msg, err := s.composer.Compose(ctx, t.profile, t.posting)
	if err != nil {
		return nil, fmt.Errorf("compose message: %w", err)
	}
	return msg, nil
}

// SendViaEmail composes a message for an approved application, mails it and
// marks the application Sent.
func (s *Service) SendViaEmail(ctx context.Context, appID string) (*model.Application, error) {
	return s.send(ctx, ChannelEmail, appID, func(ctx context.Context, t *target) (string, string, error) {
		if s.email == nil {
			return "", "", fmt.Errorf("%s: %w", ChannelEmail, ErrChannelUnavailable)
		}

		to, err := s.recipients.Recipient(ctx, t.posting)
		if err != nil {
			return "", "", err
		}
		msg, err := s.compose(ctx, t)
		if err != nil {
			return "", "", err
		}

		id, err := s.email.Send(ctx, Email{
			FromName: t.profile.FullName,
			To:       to,
			ReplyTo:  t.profile.Email,
			Subject:  msg.Subject,
			Body:     msg.Body,
		})
		if err != nil {
			return "", "", err
		}
		return AuditEmailSent, fmt.Sprintf("to %s, subject %q, message id %s", to, msg.Subject, id), nil
	})
}

// SendViaLinkedIn sends a connection request and a message to the job poster.
// Each action takes one unit of the daily quota and is spaced from the
// previous action of the same user by a random delay.
func (s *Service) SendViaLinkedIn(ctx context.Context, appID string) (*model.Application, error) {
	return s.send(ctx, ChannelLinkedIn, appID, func(ctx context.Context, t *target) (string, string, error) {
		if s.platform == nil {
			return "", "", fmt.Errorf("%s: %w", ChannelLinkedIn, ErrChannelUnavailable)
		}
		userID := t.app.UserID

		if err := s.checkQuota(ctx, userID, model.ActionConnectionRequest, model.ActionMessageSent); err != nil {
			return "", "", err
		}

		msg, err := s.compose(ctx, t)
		if err != nil {
			return "", "", err
		}

		err = s.rateLimited(ctx, userID, model.ActionConnectionRequest, func(ctx context.Context) error {
			return s.platform.SendConnectionRequest(ctx, t.posting, msg.Subject)
		})
		if err != nil {
			return "", "", err
		}

		err = s.rateLimited(ctx, userID, model.ActionMessageSent, func(ctx context.Context) error {
			return s.platform.SendMessage(ctx, t.posting, msg)
		})
		if err != nil {
			return "", "", err
		}
		return AuditLinkedInSent, fmt.Sprintf("connection request and message, subject %q", msg.Subject), nil
	})
}

// SendViaHeadhunter applies on hh.ru with the composed message as the cover
// letter. hh.ru enforces its own limits, so the daily quota is not charged.
func (s *Service) SendViaHeadhunter(ctx context.Context, appID string) (*model.Application, error) {
	return s.send(ctx, ChannelHeadhunter, appID, func(ctx context.Context, t *target) (string, string, error) {
		if s.hh == nil {
			return "", "", fmt.Errorf("%s: %w", ChannelHeadhunter, ErrChannelUnavailable)
		}

		msg, err := s.compose(ctx, t)
		if err != nil {
			return "", "", err
		}
		if err := s.hh.Apply(ctx, t.posting, msg.Body); err != nil {
			return "", "", err
		}
		return AuditNegotiationSent, fmt.Sprintf("vacancy %s", t.posting.ExternalID), nil
	})
}

// Send dispatches to the named channel.
func (s *Service) Send(ctx context.Context, channel, appID string) (*model.Application, error) {
	switch channel {
	case ChannelEmail:
		return s.SendViaEmail(ctx, appID)
	case ChannelLinkedIn:
		return s.SendViaLinkedIn(ctx, appID)
	case ChannelHeadhunter:
		return s.SendViaHeadhunter(ctx, appID)
	}
	return nil, fmt.Errorf("unknown channel %q", channel)
}

// checkQuota defers the send up front when any of the actions it needs has
// no budget left today.
func (s *Service) checkQuota(ctx context.Context, userID string, actions ...model.ActionType) error {
	for _, action := range actions {
		queue, err := s.limiter.ShouldQueueOperation(ctx, userID, action)
		if err != nil {
			return err
		}
		if queue {
			return fmt.Errorf("%s quota for %s: %w", action, userID, ErrQueued)
		}
	}
	return nil
}

// rateLimited runs fn for one unit of quota. The unit is taken after the
// spacing delay and given back when fn fails, so the ledger only holds actions
// that happened. Actions of one user run one at a time.
func (s *Service) rateLimited(ctx context.Context, userID string, action model.ActionType, fn func(ctx context.Context) error) error {
	unlock, err := s.lockUser(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.pace(ctx, userID); err != nil {
		return err
	}

	reservation, err := s.limiter.Reserve(ctx, userID, action)
	if err != nil {
		return err
	}
	if reservation == nil {
		return fmt.Errorf("%s quota for %s: %w", action, userID, ErrQueued)
	}

	err = fn(ctx)
	s.markAction(userID)
	if err != nil {
		if rerr := reservation.Release(context.WithoutCancel(ctx)); rerr != nil {
			s.logger.Error("releasing quota failed",
				zap.String(logger.FieldUserID, userID),
				zap.String("action", string(action)),
				zap.Error(rerr),
			)
		}
		return err
	}
	return nil
}

// lockUser waits for the user's action slot or for ctx.
func (s *Service) lockUser(ctx context.Context, userID string) (func(), error) {
	s.paceMu.Lock()
	slot, ok := s.slots[userID]
	if !ok {
		slot = make(chan struct{}, 1)
		s.slots[userID] = slot
	}
	s.paceMu.Unlock()

	select {
	case slot <- struct{}{}:
		return func() { <-slot }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// pace waits a random delay when the user already performed an action in
// this process. The caller holds the user's slot.
func (s *Service) pace(ctx context.Context, userID string) error {
	s.paceMu.Lock()
	_, seen := s.lastAction[userID]
	s.paceMu.Unlock()

	if !seen {
		return nil
	}
	delay := s.limiter.GetRandomDelay()
	s.logger.Debug("spacing platform action",
		zap.String(logger.FieldUserID, userID),
		zap.Duration("delay", delay),
	)
	return s.limiter.Wait(ctx, delay)
}

func (s *Service) markAction(userID string) {
	s.paceMu.Lock()
	s.lastAction[userID] = s.now()
	s.paceMu.Unlock()
}
