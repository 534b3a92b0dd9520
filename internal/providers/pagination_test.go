package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDynamicsListRecordsFollowsNextLink(t *testing.T) {
	var firstPrefer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/data/v9.2/contacts" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "" {
			firstPrefer = r.Header.Get("Prefer")
			fmt.Fprintf(w, `{
				"value": [
					{"contactid": "c1", "firstname": "Ana"},
					{"contactid": "c2", "firstname": "Bea"}
				],
				"@odata.nextLink": "http://%s/api/data/v9.2/contacts?page=2"
			}`, r.Host)
			return
		}
		fmt.Fprint(w, `{"value": [{"contactid": "c3", "firstname": "Cid"}]}`)
	}))
	defer srv.Close()

	p := NewDynamicsProvider(srv.Client(), OAuthApp{})
	creds := Credentials{AccessToken: "token", EnvironmentURL: srv.URL}

	records, err := p.ListRecords(context.Background(), creds, "contact", ListOptions{Top: 2})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3 across both pages", len(records))
	}
	if v, _ := records[2].Get("contactid"); v.Text() != "c3" {
		t.Errorf("last record id = %q, want c3", v.Text())
	}
	if firstPrefer != "odata.maxpagesize=2" {
		t.Errorf("Prefer header = %q, want odata.maxpagesize=2", firstPrefer)
	}
}

func TestHubSpotListRecordsFollowsPagingAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/crm/v3/objects/contacts" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("after") == "" {
			fmt.Fprint(w, `{
				"results": [
					{"id": "1", "properties": {"firstname": "Ana"}},
					{"id": "2", "properties": {"firstname": "Bea"}}
				],
				"paging": {"next": {"after": "cursor-2"}}
			}`)
			return
		}
		fmt.Fprint(w, `{"results": [{"id": "3", "properties": {"firstname": "Cid"}}]}`)
	}))
	defer srv.Close()

	p := &HubSpotProvider{client: srv.Client(), baseURL: srv.URL}
	creds := Credentials{AccessToken: "token"}

	records, err := p.ListRecords(context.Background(), creds, "contacts", ListOptions{Top: 2})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, want 3 across both pages", len(records))
	}
	if v, _ := records[2].Get("hs_object_id"); v.Text() != "3" {
		t.Errorf("last record id = %q, want 3", v.Text())
	}
}

func TestHubSpotSearchFollowsPagingAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/crm/v3/objects/contacts/search" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var query struct {
			After string `json:"after"`
		}
		if err := json.NewDecoder(r.Body).Decode(&query); err != nil {
			t.Errorf("decode search body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if query.After == "" {
			fmt.Fprint(w, `{
				"results": [{"id": "1", "properties": {"firstname": "Ana"}}],
				"paging": {"next": {"after": "cursor-2"}}
			}`)
			return
		}
		fmt.Fprint(w, `{"results": [{"id": "2", "properties": {"firstname": "Bea"}}]}`)
	}))
	defer srv.Close()

	p := &HubSpotProvider{client: srv.Client(), baseURL: srv.URL}
	creds := Credentials{AccessToken: "token"}
	since := time.Now().Add(-time.Hour)

	records, err := p.ListRecords(context.Background(), creds, "contacts", ListOptions{ModifiedSince: &since, Top: 1})
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2 across both search pages", len(records))
	}
}

func TestHubSpotPageLimitClamp(t *testing.T) {
	cases := []struct {
		top  int
		want int
	}{
		{0, 100},
		{-5, 100},
		{50, 50},
		{200, 200},
		{250, 200},
	}
	for _, tc := range cases {
		if got := hubspotPageLimit(tc.top); got != tc.want {
			t.Errorf("hubspotPageLimit(%d) = %d, want %d", tc.top, got, tc.want)
		}
	}
}
