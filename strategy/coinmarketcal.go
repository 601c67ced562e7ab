// Package strategy backtests a listing-based trading strategy: buy at the
// first available Binance price after a listing announcement, sell once the
// price rises by the configured take-profit fraction, or at the end of the
// holding window if the target is never reached.
package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// The events API caps page size at 75.
	maxPageLimit = 75

	// Category id CoinMarketCal uses for exchange events.
	exchangeCategoryID = 4
)

// CoinMarketCal fetches listing events from the CoinMarketCal API.
type CoinMarketCal struct {
	BaseURL string
	APIKey  string
	// PageLimit is the events page size, clamped to 1..75. Zero means 75.
	PageLimit int
	// HTTP defaults to a client with a 15s timeout.
	HTTP *http.Client
}

type Event struct {
	Title         Title      `json:"title"`
	Coins         []Coin     `json:"coins"`
	Categories    []Category `json:"categories"`
	DateEvent     string     `json:"date_event"`
	CreatedDate   string     `json:"created_date"`
	DisplayedDate string     `json:"displayed_date"`
}

type Title struct {
	En string `json:"en"`
}

type Coin struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Fullname string `json:"fullname"`
}

type Category struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type eventsPage struct {
	Body     []Event `json:"body"`
	Metadata struct {
		PageCount int `json:"page_count"`
	} `json:"_metadata"`
}

// IsExchangeListing reports whether the event's categories mark it as an
// exchange listing. Events carrying no categories at all pass, since the API
// omits them for some listings.
func (e Event) IsExchangeListing() bool {
	if len(e.Categories) == 0 {
		return true
	}
	for _, c := range e.Categories {
		if c.ID == exchangeCategoryID || strings.Contains(strings.ToLower(c.Name), "exchange") {
			return true
		}
	}
	return false
}

// OccurredAt returns the event time, preferring date_event over created_date.
func (e Event) OccurredAt() (time.Time, bool) {
	for _, s := range []string{e.DateEvent, e.CreatedDate} {
		if s == "" {
			continue
		}
		if t, err := parseEventTime(s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseEventTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func (c *CoinMarketCal) client() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 15 * time.Second}
}

func (c *CoinMarketCal) base() string {
	if c.BaseURL == "" {
		return "https://developers.coinmarketcal.com/v1"
	}
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *CoinMarketCal) perPage() int {
	n := c.PageLimit
	if n == 0 {
		n = maxPageLimit
	}
	if n < 1 {
		n = 1
	}
	if n > maxPageLimit {
		n = maxPageLimit
	}
	return n
}

func (c *CoinMarketCal) get(ctx context.Context, rawURL string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	if params != nil {
		req.URL.RawQuery = params.Encode()
	}
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		// Surface the response body, it usually explains the rejection.
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("coinmarketcal: GET %s: status %d: %s", req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// ListingCategoryIDs returns a comma-joined list of ids for categories whose
// name looks listing-related. Matching by name avoids hardcoding the numbers.
func (c *CoinMarketCal) ListingCategoryIDs(ctx context.Context) (string, error) {
	var cats []Category
	if err := c.get(ctx, c.base()+"/categories", nil, &cats); err != nil {
		return "", err
	}
	var ids []string
	for _, cat := range cats {
		name := strings.ToLower(cat.Name)
		if strings.Contains(name, "list") || strings.Contains(name, "exchang") {
			ids = append(ids, strconv.Itoa(cat.ID))
		}
	}
	return strings.Join(ids, ","), nil
}

// RecentEvents returns every event in [start, end], walking pages until an
// empty body, the reported page count, or a short page.
func (c *CoinMarketCal) RecentEvents(ctx context.Context, start, end time.Time) ([]Event, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("coinmarketcal: API key is required")
	}

	perPage := c.perPage()
	common := url.Values{}
	common.Set("dateRangeStart", start.UTC().Format("2006-01-02"))
	common.Set("dateRangeEnd", end.UTC().Format("2006-01-02"))
	common.Set("sortBy", "created_desc")
	common.Set("max", strconv.Itoa(perPage))

	// Best effort: restrict to listing-ish categories when the lookup works.
	if ids, err := c.ListingCategoryIDs(ctx); err == nil && ids != "" {
		common.Set("categories", ids)
	} else if err != nil {
		log.Printf("Listing categories unavailable, fetching all events: %v", err)
	}

	eventsURL := c.base() + "/events"
	var all []Event
	for page := 1; ; page++ {
		params := url.Values{}
		for k, v := range common {
			params[k] = v
		}
		params.Set("page", strconv.Itoa(page))

		var p eventsPage
		if err := c.get(ctx, eventsURL, params, &p); err != nil {
			return nil, err
		}
		if len(p.Body) == 0 {
			break
		}
		all = append(all, p.Body...)

		if p.Metadata.PageCount > 0 && page >= p.Metadata.PageCount {
			break
		}
		if len(p.Body) < perPage {
			break
		}
	}
	return all, nil
}
