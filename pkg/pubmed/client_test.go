package pubmed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func newTestServer(t *testing.T, esearch, esummary string) (*httptest.Server, *int32) {
	t.Helper()
	var summaryCalls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("db") != "pubmed" || q.Get("format") != "json" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		if q.Get("api_key") != "k" {
			t.Errorf("expected api key, got %q", q.Get("api_key"))
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/esearch.fcgi":
			if q.Get("retmax") != "5" {
				t.Errorf("expected retmax=5, got %q", q.Get("retmax"))
			}
			fmt.Fprint(w, esearch)
		case "/esummary.fcgi":
			atomic.AddInt32(&summaryCalls, 1)
			fmt.Fprint(w, esummary)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &summaryCalls
}

func TestSearchNormalizesSummaries(t *testing.T) {
	esearch := `{"esearchresult":{"idlist":["111","222"]}}`
	esummary := `{"result":{
		"uids":["111","222"],
		"111":{"uid":"111","title":"Aspirin in <i>primary</i> prevention","abstract":"Trial summary.","elocationid":"doi: 10.1000/xyz"},
		"222":{"uid":"222","title":"Statins","elocationid":""}
	}}`
	srv, calls := newTestServer(t, esearch, esummary)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", AppURL: "https://heart.example/"})

	got, err := c.Search(context.Background(), "heart failure")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if *calls != 1 {
		t.Fatalf("expected one detail call, got %d", *calls)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 results, got %d", len(got))
	}
	if got[0].Title != "Aspirin in primary prevention" {
		t.Fatalf("unexpected title: %q", got[0].Title)
	}
	if got[0].Summary != "Trial summary." {
		t.Fatalf("unexpected summary: %q", got[0].Summary)
	}
	wantSources := []string{"https://heart.example/research/111", "doi: 10.1000/xyz"}
	if strings.Join(got[0].Sources, "|") != strings.Join(wantSources, "|") {
		t.Fatalf("unexpected sources: %v", got[0].Sources)
	}
	if got[1].Summary != NoAbstract {
		t.Fatalf("expected fallback summary, got %q", got[1].Summary)
	}
	if len(got[1].Sources) != 1 || got[1].Sources[0] != "https://heart.example/research/222" {
		t.Fatalf("expected only internal source, got %v", got[1].Sources)
	}
}

func TestSearchNoIDsSkipsDetailCall(t *testing.T) {
	srv, calls := newTestServer(t, `{"esearchresult":{"idlist":[]}}`, `{}`)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k"})

	got, err := c.Search(context.Background(), "zzzz")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil results, got %#v", got)
	}
	if *calls != 0 {
		t.Fatalf("expected no detail call, got %d", *calls)
	}
}

func TestSearchSkipsNullRecordsAndFollowsUIDOrder(t *testing.T) {
	esearch := `{"esearchresult":{"idlist":["1","2","3"]}}`
	esummary := `{"result":{
		"uids":["3","1","2"],
		"1":{"uid":"1","title":"One"},
		"2":null,
		"3":{"uid":"3","title":"Three"}
	}}`
	srv, _ := newTestServer(t, esearch, esummary)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k"})

	got, err := c.Search(context.Background(), "q")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 || got[0].Title != "Three" || got[1].Title != "One" {
		t.Fatalf("unexpected results: %+v", got)
	}
}

func TestSearchSkipsErrorAndUntitledRecords(t *testing.T) {
	esearch := `{"esearchresult":{"idlist":["1","2","3"]}}`
	esummary := `{"result":{
		"uids":["1","2","3"],
		"1":{"uid":"1","error":"cannot get document summary"},
		"2":{"uid":"2","title":"  "},
		"3":{"uid":"3","title":"Three"}
	}}`
	srv, _ := newTestServer(t, esearch, esummary)
	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k"})

	got, err := c.Search(context.Background(), "q")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Three" {
		t.Fatalf("unexpected results: %+v", got)
	}
}

func TestSearchUpstreamFailures(t *testing.T) {
	tests := []struct {
		name     string
		handler  http.HandlerFunc
		wantCode int
	}{
		{
			name: "lookup status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantCode: http.StatusTooManyRequests,
		},
		{
			name: "detail status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/esearch.fcgi" {
					fmt.Fprint(w, `{"esearchresult":{"idlist":["1"]}}`)
					return
				}
				w.WriteHeader(http.StatusBadGateway)
			},
			wantCode: http.StatusBadGateway,
		},
		{
			name: "malformed json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"esearchresult":`)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			c := NewClient(Config{BaseURL: srv.URL})

			got, err := c.Search(context.Background(), "q")
			if err == nil {
				t.Fatalf("expected error, got results %v", got)
			}
			if got != nil {
				t.Fatalf("expected no partial results, got %v", got)
			}
			if !errors.Is(err, ErrUpstream) {
				t.Fatalf("expected ErrUpstream, got %v", err)
			}
			var upErr *UpstreamError
			if !errors.As(err, &upErr) {
				t.Fatalf("expected *UpstreamError, got %T", err)
			}
			if upErr.StatusCode != tt.wantCode {
				t.Fatalf("expected status %d, got %d", tt.wantCode, upErr.StatusCode)
			}
		})
	}
}

func TestStripMarkup(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain title", "plain title"},
		{"Role of <i>TNF</i>-alpha", "Role of TNF-alpha"},
		{"Ca<sup>2+</sup>  handling\n", "Ca2+ handling"},
		{"A &amp; B", "A & B"},
	}
	for _, tt := range tests {
		if got := StripMarkup(tt.in); got != tt.want {
			t.Errorf("StripMarkup(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
