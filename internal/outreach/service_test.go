package outreach

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/jobpilot/internal/ai"
	"github.com/spigell/jobpilot/internal/headhunter"
	"github.com/spigell/jobpilot/internal/matching"
	"github.com/spigell/jobpilot/internal/model"
	"github.com/spigell/jobpilot/internal/store/memstore"
	"github.com/spigell/jobpilot/internal/throttle"
)

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixedMatcher struct{ score int }

func (m fixedMatcher) Assess(context.Context, *model.Profile, *model.Posting) (*ai.MatchAssessment, error) {
	return &ai.MatchAssessment{Score: m.score, Reasoning: "fits"}, nil
}

type stubComposer struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (c *stubComposer) Compose(_ context.Context, _ *model.Profile, posting *model.Posting) (*ai.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &ai.Message{Subject: "Hello " + posting.Company, Body: "I would like to apply."}, nil
}

type recordingEmail struct {
	sent []Email
	err  error
}

func (r *recordingEmail) Send(_ context.Context, email Email) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	r.sent = append(r.sent, email)
	return "msg-1", nil
}

type recordingPlatform struct {
	mu      sync.Mutex
	actions []string
	err     error
}

func (p *recordingPlatform) SendConnectionRequest(_ context.Context, _ *model.Posting, note string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, "connect:"+note)
	return p.err
}

func (p *recordingPlatform) SendMessage(_ context.Context, _ *model.Posting, msg *ai.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.actions = append(p.actions, "message:"+msg.Subject)
	return p.err
}

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	return ctx.Err()
}

type failingNotifier struct{ calls int }

func (f *failingNotifier) Notify(context.Context, Event) error {
	f.calls++
	return errors.New("redis down")
}

type fixture struct {
	store    *memstore.Store
	svc      *Service
	limiter  *throttle.Manager
	composer *stubComposer
	email    *recordingEmail
	platform *recordingPlatform
	sleeps   *recordedSleeps
	posting  *model.Posting
	match    *model.Match
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	ctx := context.Background()

	st := memstore.New()
	st.SetClock(func() time.Time { return fixedNow })
	st.PutProfile(&model.Profile{UserID: "u1", FullName: "Ada Lovelace", Email: "ada@example.com", Skills: []string{"go"}})
	st.PutProfile(&model.Profile{UserID: "u2", FullName: "Intruder"})

	posting := &model.Posting{
		ExternalID:  model.ExternalID("linkedin", "999"),
		Title:       "Backend Engineer",
		Company:     "Acme",
		Description: "Send your CV to jobs@acme.io.",
		Platform:    "linkedin",
		SourceURL:   "https://www.linkedin.com/jobs/view/999",
		IsActive:    true,
	}
	require.NoError(t, st.InsertPosting(ctx, posting))

	engine := matching.NewEngine(st, fixedMatcher{score: 90}, nil)
	m, err := engine.CalculateMatch(ctx, "u1", posting.ID)
	require.NoError(t, err)

	sleeps := &recordedSleeps{}
	limiter := throttle.NewManager(st, "linkedin", nil,
		throttle.WithClock(func() time.Time { return fixedNow }),
		throttle.WithSleep(sleeps.sleep),
	)

	f := &fixture{
		store:    st,
		limiter:  limiter,
		composer: &stubComposer{},
		email:    &recordingEmail{},
		platform: &recordingPlatform{},
		sleeps:   sleeps,
		posting:  posting,
		match:    m,
	}

	base := []Option{
		WithEmail(f.email, nil),
		WithPlatformSender(f.platform),
		WithClock(func() time.Time { return fixedNow }),
	}
	f.svc = New(st, engine, f.composer, limiter, nil, append(base, opts...)...)
	return f
}

func (f *fixture) draft(t *testing.T) *model.Application {
	t.Helper()
	app, err := f.svc.ApproveMatch(context.Background(), f.match.ID, "u1")
	require.NoError(t, err)
	require.Equal(t, model.StatusDraft, app.Status)
	return app
}

func (f *fixture) approved(t *testing.T) *model.Application {
	t.Helper()
	app := f.draft(t)
	approved, err := f.svc.Approve(context.Background(), app.ID, "u1")
	require.NoError(t, err)
	return approved
}

func auditActions(t *testing.T, st *memstore.Store, appID string) []string {
	t.Helper()
	entries, err := st.ListAudit(context.Background(), appID)
	require.NoError(t, err)
	actions := make([]string, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}

func TestApproveMatchDraftsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.draft(t)
	second, err := f.svc.ApproveMatch(ctx, f.match.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	m, err := f.store.GetMatch(ctx, f.match.ID)
	require.NoError(t, err)
	assert.Equal(t, model.MatchApproved, m.Status)

	_, err = f.svc.ApproveMatch(ctx, f.match.ID, "u2")
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestRejectMatchRejectsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.draft(t)

	m, err := f.svc.RejectMatch(ctx, f.match.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.MatchRejected, m.Status)

	stored, err := f.store.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, stored.Status)
}

func TestApproveRequiresOwner(t *testing.T) {
	f := newFixture(t)
	app := f.draft(t)

	_, err := f.svc.Approve(context.Background(), app.ID, "u2")
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	_, err = f.svc.Approve(context.Background(), "missing", "u1")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateApplicationStatusRejectsInvalidTransition(t *testing.T) {
	f := newFixture(t)
	app := f.draft(t)

	_, err := f.svc.UpdateApplicationStatus(context.Background(), app.ID, model.StatusSent, "skip approval")

	var invalid *model.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, model.StatusDraft, invalid.From)
	assert.Equal(t, model.StatusSent, invalid.To)

	stored, err := f.store.GetApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, stored.Status)
	assert.Nil(t, stored.SentAt)
}

func TestUpdateApplicationStatusLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.approved(t)

	sent, err := f.svc.UpdateApplicationStatus(ctx, app.ID, model.StatusSent, "manual")
	require.NoError(t, err)
	require.NotNil(t, sent.SentAt)
	assert.Equal(t, fixedNow, *sent.SentAt)

	failed, err := f.svc.UpdateApplicationStatus(ctx, app.ID, model.StatusFailed, "bounced")
	require.NoError(t, err)
	assert.Equal(t, fixedNow, *failed.SentAt)

	_, err = f.svc.UpdateApplicationStatus(ctx, app.ID, model.StatusRetry, "try again")
	require.NoError(t, err)

	_, err = f.svc.UpdateApplicationStatus(ctx, app.ID, model.StatusSent, "no gate")
	var invalid *model.InvalidTransitionError
	assert.ErrorAs(t, err, &invalid)

	_, err = f.svc.UpdateApplicationStatus(ctx, app.ID, model.StatusApproved, "re-approved")
	require.NoError(t, err)

	_, err = f.svc.UpdateApplicationStatus(ctx, "missing", model.StatusApproved, "")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSendWithoutApprovalIsRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.draft(t)

	for _, send := range []func(context.Context, string) (*model.Application, error){
		f.svc.SendViaEmail, f.svc.SendViaLinkedIn, f.svc.SendViaHeadhunter,
	} {
		_, err := send(ctx, app.ID)
		assert.ErrorIs(t, err, ErrNotApproved)
	}

	assert.Empty(t, f.email.sent)
	assert.Empty(t, f.platform.actions)
	assert.Zero(t, f.composer.calls)

	stored, err := f.store.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, stored.Status)
	assert.Equal(t, []string{AuditCreated, AuditError, AuditError, AuditError}, auditActions(t, f.store, app.ID))
}

func TestSendViaEmail(t *testing.T) {
	f := newFixture(t)
	app := f.approved(t)

	sent, err := f.svc.SendViaEmail(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, sent.Status)
	require.NotNil(t, sent.SentAt)

	require.Len(t, f.email.sent, 1)
	email := f.email.sent[0]
	assert.Equal(t, "jobs@acme.io", email.To)
	assert.Equal(t, "ada@example.com", email.ReplyTo)
	assert.Equal(t, "Ada Lovelace", email.FromName)
	assert.Equal(t, "Hello Acme", email.Subject)

	assert.Equal(t,
		[]string{AuditCreated, AuditStatusChanged, AuditEmailSent, AuditStatusChanged},
		auditActions(t, f.store, app.ID),
	)
}

func TestSendViaEmailFailureKeepsStatus(t *testing.T) {
	cases := map[string]func(f *fixture){
		"sender":   func(f *fixture) { f.email.err = errors.New("ses throttled") },
		"composer": func(f *fixture) { f.composer.err = errors.New("model overloaded") },
	}

	for name, breakIt := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			app := f.approved(t)
			breakIt(f)

			_, err := f.svc.SendViaEmail(context.Background(), app.ID)
			require.Error(t, err)

			stored, err := f.store.GetApplication(context.Background(), app.ID)
			require.NoError(t, err)
			assert.Equal(t, model.StatusApproved, stored.Status)
			assert.Nil(t, stored.SentAt)

			actions := auditActions(t, f.store, app.ID)
			assert.Equal(t, AuditError, actions[len(actions)-1])
		})
	}
}

func TestSendViaEmailWithoutRecipient(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := &model.Posting{
		ExternalID: model.ExternalID("linkedin", "1000"),
		Title:      "SRE",
		Company:    "Quiet Corp",
		Platform:   "linkedin",
		IsActive:   true,
	}
	require.NoError(t, f.store.InsertPosting(ctx, other))
	m, err := f.svc.matches.CalculateMatch(ctx, "u1", other.ID)
	require.NoError(t, err)
	app, err := f.svc.ApproveMatch(ctx, m.ID, "u1")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, app.ID, "u1")
	require.NoError(t, err)

	_, err = f.svc.SendViaEmail(ctx, app.ID)
	assert.ErrorIs(t, err, ErrNoRecipient)
	assert.Empty(t, f.email.sent)
}

func TestSendViaLinkedInSpacesActions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.approved(t)

	sent, err := f.svc.SendViaLinkedIn(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, sent.Status)

	assert.Equal(t, []string{"connect:Hello Acme", "message:Hello Acme"}, f.platform.actions)

	require.Len(t, f.sleeps.delays, 1)
	assert.GreaterOrEqual(t, f.sleeps.delays[0], 2*time.Minute)
	assert.LessOrEqual(t, f.sleeps.delays[0], 8*time.Minute+59*time.Second)

	quota, err := f.limiter.GetQuotaStatus(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, quota.ConnectionRequests.Used)
	assert.Equal(t, 1, quota.Messages.Used)
}

func TestSendViaLinkedInDefersWhenQuotaSpent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.approved(t)

	for i := 0; i < throttle.MaxConnectionRequestsPerDay; i++ {
		require.NoError(t, f.limiter.RecordConnectionRequest(ctx, "u1"))
	}

	_, err := f.svc.SendViaLinkedIn(ctx, app.ID)
	assert.ErrorIs(t, err, ErrQueued)
	assert.Empty(t, f.platform.actions)

	stored, err := f.store.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, stored.Status)

	actions := auditActions(t, f.store, app.ID)
	assert.Equal(t, AuditDeferred, actions[len(actions)-1])
}

func TestSendViaLinkedInPlatformFailure(t *testing.T) {
	f := newFixture(t)
	app := f.approved(t)
	f.platform.err = errors.New("poster card missing")

	_, err := f.svc.SendViaLinkedIn(context.Background(), app.ID)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrQueued)

	stored, err := f.store.GetApplication(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, stored.Status)
}

func TestSendChannelNotConfigured(t *testing.T) {
	f := newFixture(t)
	app := f.approved(t)

	_, err := f.svc.Send(context.Background(), ChannelHeadhunter, app.ID)
	assert.ErrorIs(t, err, ErrChannelUnavailable)

	_, err = f.svc.Send(context.Background(), "fax", app.ID)
	assert.Error(t, err)
}

type fakeApplier struct {
	resumes  *headhunter.Resumes
	resumeID string
	vacancy  string
	message  string
}

func (a *fakeApplier) GetMineResumes(context.Context) (*headhunter.Resumes, error) {
	return a.resumes, nil
}

func (a *fakeApplier) Apply(_ context.Context, resumeID, vacancyID, message string) error {
	a.resumeID, a.vacancy, a.message = resumeID, vacancyID, message
	return nil
}

func TestSendViaHeadhunter(t *testing.T) {
	applier := &fakeApplier{resumes: &headhunter.Resumes{Items: []*headhunter.Resume{
		{ID: "r1", Title: "Go developer"},
		{ID: "r2", Title: "Platform engineer"},
	}}}
	f := newFixture(t, WithHeadhunter(NewHeadhunterChannel(applier, "Platform engineer")))
	ctx := context.Background()

	posting := &model.Posting{
		ExternalID: model.ExternalID(headhunter.Platform, "123"),
		Title:      "Platform engineer",
		Company:    "Yandex",
		Platform:   headhunter.Platform,
		IsActive:   true,
	}
	require.NoError(t, f.store.InsertPosting(ctx, posting))
	m, err := f.svc.matches.CalculateMatch(ctx, "u1", posting.ID)
	require.NoError(t, err)
	app, err := f.svc.ApproveMatch(ctx, m.ID, "u1")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, app.ID, "u1")
	require.NoError(t, err)

	sent, err := f.svc.SendViaHeadhunter(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, sent.Status)
	assert.Equal(t, "r2", applier.resumeID)
	assert.Equal(t, "123", applier.vacancy)
	assert.Equal(t, "I would like to apply.", applier.message)
}

func TestVacancyIDRequiresHeadhunterPosting(t *testing.T) {
	_, err := VacancyID(&model.Posting{ID: "p1", Platform: "linkedin", ExternalID: "linkedin:1"})
	assert.Error(t, err)

	id, err := VacancyID(&model.Posting{ID: "p2", Platform: "hh", ExternalID: "hh:42"})
	require.NoError(t, err)
	assert.Equal(t, "42", id)
}

func TestNotificationFailureIsSwallowed(t *testing.T) {
	notifier := &failingNotifier{}
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, WithNotifier(notifier))
	f.svc.logger = zap.New(core)

	app := f.approved(t)
	sent, err := f.svc.SendViaEmail(context.Background(), app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, sent.Status)

	assert.Equal(t, 2, notifier.calls)
	assert.Equal(t, 2, logs.FilterMessage("notification failed").Len())
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	app := f.approved(t)

	entries, err := f.svc.History(context.Background(), app.ID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, model.StatusApproved, entries[1].To)
	assert.Equal(t, "approved by u1", entries[1].Notes)

	_, err = f.svc.History(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestCancelRequiresOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.approved(t)

	_, err := f.svc.Cancel(ctx, app.ID, "u2")
	require.ErrorIs(t, err, model.ErrUnauthorized)

	cancelled, err := f.svc.Cancel(ctx, app.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.SentAt)

	_, err = f.svc.Cancel(ctx, app.ID, "u1")
	var invalid *model.InvalidTransitionError
	assert.ErrorAs(t, err, &invalid)
}

func TestChangeStatusRequiresOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	app := f.draft(t)

	for _, to := range []model.ApplicationStatus{model.StatusApproved, model.StatusRejected, model.StatusCancelled} {
		_, err := f.svc.ChangeStatus(ctx, app.ID, "u2", to, "")
		require.ErrorIs(t, err, model.ErrUnauthorized, string(to))
	}
	stored, err := f.store.GetApplication(ctx, app.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, stored.Status)

	approved, err := f.svc.ChangeStatus(ctx, app.ID, "u1", model.StatusApproved, "")
	require.NoError(t, err)
	assert.Equal(t, model.StatusApproved, approved.Status)
	assert.Contains(t, auditActions(t, f.store, app.ID), AuditStatusChanged)
}
