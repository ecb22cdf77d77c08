package scraper

import (
	"context"
	"time"
)

// Card is the visible data of one search result.
type Card struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Company  string `json:"company"`
	Location string `json:"location"`
}

// CardSelectors locate the parts of a result card, relative to the card.
type CardSelectors struct {
	Card     string
	Link     string
	Title    string
	Company  string
	Location string
}

// Browser is the automation surface the scraper and the platform sender use.
// A Browser is owned by one caller and must be closed by it.
type Browser interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	// Scroll moves the viewport down by one screen.
	Scroll(ctx context.Context) error
	// ExtractCards returns the cards in document order.
	ExtractCards(ctx context.Context, sel CardSelectors) ([]Card, error)
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Close() error
}

// BrowserFactory starts a new browser session.
type BrowserFactory func(ctx context.Context) (Browser, error)
