package headhunter

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/retry"
)

func vacancyItem(id, name, employer string) map[string]any {
	return map[string]any{
		"id":            id,
		"name":          name,
		"alternate_url": "https://hh.ru/vacancy/" + id,
		"area":          map[string]any{"id": "1", "name": "Moscow"},
		"employer":      map[string]any{"id": "emp-" + id, "name": employer},
		"salary":        map[string]any{"from": 200000, "to": nil, "currency": "RUR"},
		"snippet": map[string]any{
			"requirement":    "Strong <highlighttext>Go</highlighttext> skills",
			"responsibility": "Build services &amp; tools",
		},
	}
}

func newTestClient(url string) *Client {
	c := New("token", zap.NewNop())
	c.APIURL = url
	c.Retry = retry.Network(time.Millisecond)
	c.Retry.Sleep = func(context.Context, time.Duration) error { return nil }
	c.now = func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) }
	return c
}

func TestFetchConvertsVacanciesAcrossPages(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if r.URL.Path != SearchPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if got := r.URL.Query().Get("text"); got != "golang" {
			t.Errorf("unexpected text param %q", got)
		}
		if got := r.URL.Query().Get("area"); got != "1" {
			t.Errorf("unexpected area param %q", got)
		}

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		body := map[string]any{
			"items": []any{vacancyItem(fmt.Sprintf("%d", 100+page), "Go Developer", "Acme")},
			"found": 2,
			"pages": 2,
			"page":  page,
		}

		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		_ = json.NewEncoder(gz).Encode(body)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	postings, err := client.Fetch(context.Background(), "golang", "1", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(postings) != 2 {
		t.Fatalf("expected 2 postings, got %d", len(postings))
	}
	if atomic.LoadInt32(&requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", requests)
	}

	p := postings[0]
	if p.ExternalID != "hh:100" || p.Platform != Platform {
		t.Fatalf("unexpected identity: %s %s", p.ExternalID, p.Platform)
	}
	if p.Company != "Acme" || p.Location != "Moscow" {
		t.Fatalf("unexpected company/location: %s %s", p.Company, p.Location)
	}
	if p.Requirements != "Strong Go skills" {
		t.Fatalf("unexpected requirements: %q", p.Requirements)
	}
	if p.Description != "Build services & tools" {
		t.Fatalf("unexpected description: %q", p.Description)
	}
	if p.SalaryMin == nil || *p.SalaryMin != 200000 || p.SalaryMax != nil {
		t.Fatalf("unexpected salary: %v %v", p.SalaryMin, p.SalaryMax)
	}
	if !p.IsActive || p.ScrapedAt.IsZero() {
		t.Fatalf("expected active posting with scrape time")
	}
}

func TestFetchStopsAtLimit(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		if got := r.URL.Query().Get("per_page"); got != "1" {
			t.Errorf("expected per_page to follow limit, got %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []any{vacancyItem("1", "Go Developer", "Acme")},
			"pages": 10,
			"page":  0,
		})
	}))
	defer srv.Close()

	postings, err := newTestClient(srv.URL).Fetch(context.Background(), "golang", "Berlin", 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(postings) != 1 || atomic.LoadInt32(&requests) != 1 {
		t.Fatalf("expected a single page, got %d postings in %d requests", len(postings), requests)
	}
}

func TestGetItemsRetriesServerErrors(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requests, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": []any{vacancyItem("7", "SRE", "Globex")}, "pages": 1})
	}))
	defer srv.Close()

	postings, err := newTestClient(srv.URL).Fetch(context.Background(), "sre", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(postings) != 1 || atomic.LoadInt32(&requests) != 3 {
		t.Fatalf("expected recovery on third attempt, got %d postings after %d requests", len(postings), requests)
	}
}

func TestGetItemsDoesNotRetryClientErrors(t *testing.T) {
	var requests int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Fetch(context.Background(), "go", "", 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&requests) != 1 {
		t.Fatalf("expected single request, got %d", requests)
	}
}

func TestToPostingSkipsUnusableVacancies(t *testing.T) {
	vacancies := &Vacancies{Items: []*Vacancy{
		{ID: "", Name: "No id"},
		{ID: "2", Name: ""},
		{ID: "3", Name: "Archived", Archived: true},
		{ID: "4", Name: "Go Developer"},
	}}

	postings := vacancies.ToPostings(time.Now())
	if len(postings) != 1 || postings[0].ExternalID != "hh:4" {
		t.Fatalf("unexpected postings: %+v", postings)
	}
	if vacancies.FindByID("4") == nil || vacancies.Len() != 4 {
		t.Fatal("expected lookup by id")
	}
}

func TestApplyPostsNegotiation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/negotiations" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if r.FormValue("vacancy_id") != "42" || r.FormValue("resume_id") != "r1" || r.FormValue("message") != "Hello" {
			t.Errorf("unexpected form: %v", r.Form)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	if err := newTestClient(srv.URL).Apply(context.Background(), "r1", "42", "Hello"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := newTestClient(srv.URL).Apply(context.Background(), "", "42", "Hello"); err == nil {
		t.Fatal("expected error without resume id")
	}
}

func TestGetMineResumes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/resumes/mine" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"items": []any{map[string]any{"id": "r1", "title": "Go Developer"}},
			"pages": 1,
		})
	}))
	defer srv.Close()

	resumes, err := newTestClient(srv.URL).GetMineResumes(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resumes.Len() != 1 || resumes.FindByTitle("Go Developer") == nil {
		t.Fatalf("unexpected resumes: %v", resumes.Titles())
	}
}
