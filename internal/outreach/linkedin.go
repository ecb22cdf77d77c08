package outreach

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/ai"
	"github.com/spigell/jobpilot/internal/model"
	"github.com/spigell/jobpilot/internal/retry"
	"github.com/spigell/jobpilot/internal/scraper"
	"github.com/spigell/jobpilot/internal/utils"
)

// MaxConnectionNoteLength is the longest note LinkedIn accepts on an invitation.
const MaxConnectionNoteLength = 300

// PlatformSender performs the rate-limited actions on a social platform.
type PlatformSender interface {
	SendConnectionRequest(ctx context.Context, posting *model.Posting, note string) error
	SendMessage(ctx context.Context, posting *model.Posting, msg *ai.Message) error
}

// LinkedInSelectors locate the controls used to reach the job poster.
type LinkedInSelectors struct {
	Poster       string
	Connect      string
	AddNote      string
	NoteInput    string
	SendInvite   string
	Message      string
	SubjectInput string
	MessageInput string
	SendMessage  string
}

var DefaultLinkedInSelectors = LinkedInSelectors{
	Poster:       ".hirer-card__hirer-information a",
	Connect:      "button[aria-label^='Invite'][aria-label$='to connect']",
	AddNote:      "button[aria-label='Add a note']",
	NoteInput:    "textarea[name='message']",
	SendInvite:   "button[aria-label='Send now'], button[aria-label='Send invitation']",
	Message:      "button[aria-label^='Message']",
	SubjectInput: "input[name='subject']",
	MessageInput: "div.msg-form__contenteditable",
	SendMessage:  "button.msg-form__send-button",
}

// LinkedInSender drives a browser session per action.
type LinkedInSender struct {
	newBrowser scraper.BrowserFactory
	selectors  LinkedInSelectors
	timeout    time.Duration
	policy     retry.Policy
	logger     *zap.Logger
}

var _ PlatformSender = (*LinkedInSender)(nil)

func NewLinkedInSender(factory scraper.BrowserFactory, logger *zap.Logger) *LinkedInSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkedInSender{
		newBrowser: factory,
		selectors:  DefaultLinkedInSelectors,
		timeout:    30 * time.Second,
		policy:     retry.Browser(time.Second),
		logger:     logger,
	}
}

// WithSelectors replaces the default selectors.
func (l *LinkedInSender) WithSelectors(sel LinkedInSelectors) *LinkedInSender {
	l.selectors = sel
	return l
}

// WithPolicy replaces the retry policy used for navigation.
func (l *LinkedInSender) WithPolicy(p retry.Policy) *LinkedInSender {
	l.policy = p
	return l
}

// openPoster starts a session on the poster's profile page. The caller closes it.
func (l *LinkedInSender) openPoster(ctx context.Context, posting *model.Posting) (scraper.Browser, error) {
	if posting.SourceURL == "" {
		return nil, fmt.Errorf("posting %s has no source url", posting.ID)
	}

	browser, err := retry.DoValue(ctx, l.policy, l.logger, func(ctx context.Context) (scraper.Browser, error) {
		return l.newBrowser(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}

	err = retry.Do(ctx, l.policy, l.logger, func(ctx context.Context) error {
		if err := browser.Navigate(ctx, posting.SourceURL, l.timeout); err != nil {
			return err
		}
		return browser.WaitForSelector(ctx, l.selectors.Poster, l.timeout)
	})
	if err == nil {
		err = browser.Click(ctx, l.selectors.Poster)
	}
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("open job poster for %s: %w", posting.ID, err)
	}
	return browser, nil
}

func runSteps(ctx context.Context, steps ...func(ctx context.Context) error) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (l *LinkedInSender) click(b scraper.Browser, sel string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := b.WaitForSelector(ctx, sel, l.timeout); err != nil {
			return err
		}
		return b.Click(ctx, sel)
	}
}

func (l *LinkedInSender) typeText(b scraper.Browser, sel, text string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := b.WaitForSelector(ctx, sel, l.timeout); err != nil {
			return err
		}
		return b.Type(ctx, sel, text)
	}
}

func (l *LinkedInSender) SendConnectionRequest(ctx context.Context, posting *model.Posting, note string) error {
	browser, err := l.openPoster(ctx, posting)
	if err != nil {
		return err
	}
	defer browser.Close()

	note = ConnectionNote(note)
	err = runSteps(ctx,
		l.click(browser, l.selectors.Connect),
		l.click(browser, l.selectors.AddNote),
		l.typeText(browser, l.selectors.NoteInput, note),
		l.click(browser, l.selectors.SendInvite),
	)
	if err != nil {
		return fmt.Errorf("send connection request for %s: %w", posting.ID, err)
	}

	l.logger.Info("connection request sent",
		zap.String("posting_id", posting.ID),
		zap.String("note_preview", utils.TruncateForLog(note, 60)),
	)
	return nil
}

func (l *LinkedInSender) SendMessage(ctx context.Context, posting *model.Posting, msg *ai.Message) error {
	browser, err := l.openPoster(ctx, posting)
	if err != nil {
		return err
	}
	defer browser.Close()

	err = runSteps(ctx,
		l.click(browser, l.selectors.Message),
		l.typeText(browser, l.selectors.SubjectInput, msg.Subject),
		l.typeText(browser, l.selectors.MessageInput, msg.Body),
		l.click(browser, l.selectors.SendMessage),
	)
	if err != nil {
		return fmt.Errorf("send message for %s: %w", posting.ID, err)
	}

	l.logger.Info("message sent", zap.String("posting_id", posting.ID))
	return nil
}

// ConnectionNote fits text into an invitation note, cutting at a word boundary.
func ConnectionNote(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= MaxConnectionNoteLength {
		return text
	}

	cut := string(runes[:MaxConnectionNoteLength-1])
	if i := strings.LastIndex(cut, " "); i > MaxConnectionNoteLength/2 {
		cut = cut[:i]
	}
	return cut + "…"
}
