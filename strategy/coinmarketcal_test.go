package strategy

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

const testAPIKey = "test-key"

func listingWindow() (time.Time, time.Time) {
	end := time.Date(2026, 8, 21, 10, 0, 0, 0, time.UTC)
	return end.AddDate(0, 0, -7), end
}

func TestRecentEventsWalksPages(t *testing.T) {
	var eventQueries []url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-api-key"); got != testAPIKey {
			t.Errorf("x-api-key = %q, want %q", got, testAPIKey)
		}
		switch r.URL.Path {
		case "/categories":
			fmt.Fprint(w, `[{"id":4,"name":"Exchange Listing"},{"id":9,"name":"AMA"}]`)
		case "/events":
			eventQueries = append(eventQueries, r.URL.Query())
			switch r.URL.Query().Get("page") {
			case "1":
				fmt.Fprint(w, `{"body":[{"title":{"en":"A"}},{"title":{"en":"B"}}],"_metadata":{"page_count":2}}`)
			case "2":
				fmt.Fprint(w, `{"body":[{"title":{"en":"C"}}],"_metadata":{"page_count":2}}`)
			default:
				t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
			}
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	c := &CoinMarketCal{BaseURL: srv.URL, APIKey: testAPIKey, PageLimit: 2, HTTP: srv.Client()}
	start, end := listingWindow()
	events, err := c.RecentEvents(context.Background(), start, end)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("got %d events, want 3", len(events))
	}
	if len(eventQueries) != 2 {
		t.Fatalf("events endpoint hit %d times, want 2", len(eventQueries))
	}

	q := eventQueries[0]
	if got := q.Get("dateRangeStart"); got != "2026-08-14" {
		t.Errorf("dateRangeStart = %q, want 2026-08-14", got)
	}
	if got := q.Get("dateRangeEnd"); got != "2026-08-21" {
		t.Errorf("dateRangeEnd = %q, want 2026-08-21", got)
	}
	if got := q.Get("sortBy"); got != "created_desc" {
		t.Errorf("sortBy = %q, want created_desc", got)
	}
	if got := q.Get("max"); got != "2" {
		t.Errorf("max = %q, want 2", got)
	}
	if got := q.Get("categories"); got != "4" {
		t.Errorf("categories = %q, want the listing-ish id 4", got)
	}
}

func TestRecentEventsStopsOnEmptyBody(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/categories":
			fmt.Fprint(w, `[]`)
		case "/events":
			calls++
			if r.URL.Query().Get("page") == "1" {
				fmt.Fprint(w, `{"body":[{"title":{"en":"A"}},{"title":{"en":"B"}}]}`)
				return
			}
			fmt.Fprint(w, `{"body":[]}`)
		}
	}))
	defer srv.Close()

	c := &CoinMarketCal{BaseURL: srv.URL, APIKey: testAPIKey, PageLimit: 2, HTTP: srv.Client()}
	start, end := listingWindow()
	events, err := c.RecentEvents(context.Background(), start, end)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("got %d events, want 2", len(events))
	}
	if calls != 2 {
		t.Errorf("events endpoint hit %d times, want 2", calls)
	}
}

func TestRecentEventsStopsOnShortPage(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/categories":
			fmt.Fprint(w, `[]`)
		case "/events":
			calls++
			fmt.Fprint(w, `{"body":[{"title":{"en":"A"}}]}`)
		}
	}))
	defer srv.Close()

	c := &CoinMarketCal{BaseURL: srv.URL, APIKey: testAPIKey, PageLimit: 2, HTTP: srv.Client()}
	start, end := listingWindow()
	events, err := c.RecentEvents(context.Background(), start, end)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("got %d events, want 1", len(events))
	}
	if calls != 1 {
		t.Errorf("events endpoint hit %d times, want 1", calls)
	}
}

func TestRecentEventsSurvivesCategoryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/categories":
			http.Error(w, "nope", http.StatusInternalServerError)
		case "/events":
			if got := r.URL.Query().Get("categories"); got != "" {
				t.Errorf("categories = %q, want unset after lookup failure", got)
			}
			fmt.Fprint(w, `{"body":[{"title":{"en":"A"}}]}`)
		}
	}))
	defer srv.Close()

	c := &CoinMarketCal{BaseURL: srv.URL, APIKey: testAPIKey, HTTP: srv.Client()}
	start, end := listingWindow()
	events, err := c.RecentEvents(context.Background(), start, end)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("got %d events, want 1", len(events))
	}
}

func TestRecentEventsRequiresAPIKey(t *testing.T) {
	c := &CoinMarketCal{BaseURL: "http://127.0.0.1:0"}
	start, end := listingWindow()
	if _, err := c.RecentEvents(context.Background(), start, end); err == nil {
		t.Fatal("RecentEvents accepted an empty API key")
	}
}

func TestRecentEventsSurfacesResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/categories" {
			fmt.Fprint(w, `[]`)
			return
		}
		http.Error(w, "invalid api key", http.StatusForbidden)
	}))
	defer srv.Close()

	c := &CoinMarketCal{BaseURL: srv.URL, APIKey: "wrong", HTTP: srv.Client()}
	start, end := listingWindow()
	_, err := c.RecentEvents(context.Background(), start, end)
	if err == nil {
		t.Fatal("RecentEvents accepted a 403")
	}
	if !strings.Contains(err.Error(), "403") || !strings.Contains(err.Error(), "invalid api key") {
		t.Errorf("err = %v, want status and body in the message", err)
	}
}

func TestIsExchangeListing(t *testing.T) {
	cases := []struct {
		name       string
		categories []Category
		want       bool
	}{
		{"no categories", nil, true},
		{"exchange by name", []Category{{ID: 12, Name: "Exchange Listing"}}, true},
		{"exchange by id", []Category{{ID: 4, Name: "whatever"}}, true},
		{"unrelated", []Category{{ID: 9, Name: "AMA"}}, false},
		{"mixed", []Category{{ID: 9, Name: "AMA"}, {ID: 4, Name: "x"}}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := Event{Categories: tc.categories}
			if got := ev.IsExchangeListing(); got != tc.want {
				t.Errorf("IsExchangeListing = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestOccurredAt(t *testing.T) {
	withEvent := Event{DateEvent: "2026-08-18T09:00:00Z", CreatedDate: "2026-08-10T00:00:00Z"}
	got, ok := withEvent.OccurredAt()
	if !ok || !got.Equal(time.Date(2026, 8, 18, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("OccurredAt = %v/%v, want the event date", got, ok)
	}

	createdOnly := Event{CreatedDate: "2026-08-10T00:00:00Z"}
	got, ok = createdOnly.OccurredAt()
	if !ok || !got.Equal(time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("OccurredAt = %v/%v, want the created date", got, ok)
	}

	dateOnly := Event{DateEvent: "2026-08-18"}
	got, ok = dateOnly.OccurredAt()
	if !ok || !got.Equal(time.Date(2026, 8, 18, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("OccurredAt = %v/%v, want midnight UTC", got, ok)
	}

	if _, ok := (Event{}).OccurredAt(); ok {
		t.Error("OccurredAt reported a date for an empty event")
	}
}
