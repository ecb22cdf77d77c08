// Package headhunter is an API-backed posting source for hh.ru.
package headhunter

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/model"
	"github.com/spigell/jobpilot/internal/retry"
)

const (
	// Platform is the source name used in external ids.
	Platform = "hh"

	apiURL       = "https://api.hh.ru"
	mineResumeID = "mine"
	userAgent    = "spigell/jobpilot (spigelly@gmail.com)"
	// Max value for search per page.
	perPage = "100"
)

type Client struct {
	token      string
	logger     *zap.Logger
	HTTPClient *http.Client
	UserAgent  string
	APIURL     string
	// Retry wraps every GET request.
	Retry retry.Policy
	now   func() time.Time
}

func New(token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		token:  token,
		APIURL: apiURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger:    logger,
		UserAgent: userAgent,
		Retry:     retry.Network(time.Second),
		now:       time.Now,
	}
}

// Name implements the scraper API source contract.
func (c *Client) Name() string {
	return Platform
}

// Fetch searches vacancies for keyword and converts them to postings. A
// numeric locationHint is used as an hh.ru area id; other hints are ignored.
func (c *Client) Fetch(ctx context.Context, keyword, locationHint string, limit int) ([]*model.Posting, error) {
	params := &SearchParams{Text: keyword}
	if hint := strings.TrimSpace(locationHint); hint != "" {
		if area, err := strconv.Atoi(hint); err == nil {
			params.Areas = []int{area}
		} else {
			c.logger.Debug("location hint is not an area id, ignoring", zap.String("location", hint))
		}
	}

	vacancies, err := c.Search(ctx, params, limit)
	if err != nil {
		return nil, err
	}

	return vacancies.ToPostings(c.now().UTC()), nil
}

// Search returns up to limit vacancies; limit <= 0 means every page.
func (c *Client) Search(ctx context.Context, params *SearchParams, limit int) (*Vacancies, error) {
	return c.search(ctx, params, limit)
}

func (c *Client) GetMineResumes(ctx context.Context) (*Resumes, error) {
	return c.getResumes(ctx, mineResumeID)
}

// Apply sends a negotiation (application) for vacancyID with the resume.
func (c *Client) Apply(ctx context.Context, resumeID, vacancyID, message string) error {
	return c.postNegotiation(ctx, resumeID, vacancyID, message)
}
