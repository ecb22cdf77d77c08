package headhunter

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/spigell/jobpilot/internal/model"
)

type Vacancies struct {
	Items []*Vacancy
}

type Vacancy struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Area struct {
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
		URL  string `json:"url,omitempty"`
	} `json:"area,omitempty"`
	HasTest bool `json:"has_test,omitempty"`
	Salary  struct {
		From     int    `json:"from,omitempty"`
		To       int    `json:"to,omitempty"`
		Currency string `json:"currency,omitempty"`
		Gross    bool   `json:"gross,omitempty"`
	} `json:"salary,omitempty"`
	Schedule struct {
		ID   string `json:"id,omitempty"`
		Name string `json:"name,omitempty"`
	} `json:"schedule,omitempty"`
	Employer struct {
		ID           string `json:"id,omitempty"`
		Name         string `json:"name,omitempty"`
		AlternateURL string `json:"alternate_url,omitempty"`
		Trusted      bool   `json:"trusted,omitempty"`
	} `json:"employer,omitempty"`
	AlternateURL string `json:"alternate_url,omitempty"`
	Description  string `json:"description,omitempty"`
	KeySkills    []struct {
		Name string `json:"name,omitempty"`
	} `json:"key_skills,omitempty"`
	Archived bool `json:"archived,omitempty"`
	Snippet  struct {
		Requirement    string `json:"requirement,omitempty"`
		Responsibility string `json:"responsibility,omitempty"`
	} `json:"snippet,omitempty"`
	PublishedAt string `json:"published_at,omitempty"`
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// stripMarkup removes the highlight tags hh.ru puts into snippets.
func stripMarkup(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(html.UnescapeString(s)), " ")
}

func (v *Vacancies) Len() int {
	return len(v.Items)
}

func (v *Vacancies) FindByID(id string) *Vacancy {
	for _, vacancy := range v.Items {
		if vacancy.ID == id {
			return vacancy
		}
	}
	return nil
}

// ToPostings converts every usable vacancy. Vacancies without an id or a
// title, and archived ones, are skipped.
func (v *Vacancies) ToPostings(scrapedAt time.Time) []*model.Posting {
	postings := make([]*model.Posting, 0, len(v.Items))
	for _, vacancy := range v.Items {
		if p := vacancy.ToPosting(scrapedAt); p != nil {
			postings = append(postings, p)
		}
	}
	return postings
}

// ToPosting maps a vacancy to a posting with external id "hh:<id>".
func (va *Vacancy) ToPosting(scrapedAt time.Time) *model.Posting {
	if va == nil || strings.TrimSpace(va.ID) == "" || strings.TrimSpace(va.Name) == "" || va.Archived {
		return nil
	}

	requirements := stripMarkup(va.Snippet.Requirement)
	if len(va.KeySkills) > 0 {
		skills := make([]string, 0, len(va.KeySkills))
		for _, s := range va.KeySkills {
			if s.Name != "" {
				skills = append(skills, s.Name)
			}
		}
		if len(skills) > 0 {
			requirements = strings.TrimSpace(requirements + "\nKey skills: " + strings.Join(skills, ", "))
		}
	}

	description := stripMarkup(va.Description)
	if description == "" {
		description = stripMarkup(va.Snippet.Responsibility)
	}

	p := &model.Posting{
		ExternalID:   model.ExternalID(Platform, va.ID),
		Title:        strings.TrimSpace(va.Name),
		Company:      strings.TrimSpace(va.Employer.Name),
		Location:     strings.TrimSpace(va.Area.Name),
		Description:  description,
		Requirements: requirements,
		Platform:     Platform,
		SourceURL:    va.AlternateURL,
		ScrapedAt:    scrapedAt,
		IsActive:     true,
	}
	if va.Salary.From > 0 {
		from := va.Salary.From
		p.SalaryMin = &from
	}
	if va.Salary.To > 0 {
		to := va.Salary.To
		p.SalaryMax = &to
	}
	return p
}
