package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientFetchProjects_Pagination(t *testing.T) {
	cursorNext := "page-2"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/projects" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Fatalf("missing bearer token, got %q", got)
		}
		if got := r.URL.Query().Get("limit"); got != "2" {
			t.Fatalf("unexpected limit %q", got)
		}
		switch r.URL.Query().Get("cursor") {
		case "":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"results":    []Project{{PageID: "p1", Name: "Atlas"}, {PageID: "p2", Name: "Borealis"}},
				"nextCursor": cursorNext,
				"hasMore":    true,
			})
		case cursorNext:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"results": []Project{{PageID: "p3", Name: "Cygnus"}},
				"hasMore": false,
			})
		default:
			t.Fatalf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok-123", 2)
	got, err := c.FetchProjects(context.Background())
	if err != nil {
		t.Fatalf("fetch projects: %v", err)
	}
	if len(got) != 3 || got[0].PageID != "p1" || got[2].PageID != "p3" {
		t.Fatalf("unexpected projects: %+v", got)
	}
}

func TestClientFetchConversations_Attendees(t *testing.T) {
	occurred := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/conversations" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []Conversation{{
				ExternalID: "conv-1",
				Title:      "weekly sync",
				OccurredAt: occurred,
				Attendees: []Person{
					{ExternalID: "u-1", Username: "alice"},
					{ExternalID: "u-2", Username: "bob"},
				},
			}},
			"hasMore": false,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0)
	got, err := c.FetchConversations(context.Background())
	if err != nil {
		t.Fatalf("fetch conversations: %v", err)
	}
	if len(got) != 1 || len(got[0].Attendees) != 2 {
		t.Fatalf("unexpected conversations: %+v", got)
	}
	if !got[0].OccurredAt.Equal(occurred) {
		t.Fatalf("occurred at: want %v, got %v", occurred, got[0].OccurredAt)
	}
}

func TestClientFetch_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0)
	if _, err := c.FetchTasks(context.Background()); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestClientPing(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"results": []Member{}, "hasMore": false})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("ping healthy: %v", err)
	}
	healthy = false
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping failure on 503")
	}
}
