package opensearch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/proxyvisr/internal/history"
)

func TestOpenSearchSink_Send(t *testing.T) {
	var got map[string]any
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := New(srv.URL+"/", "core-history")
	err := s.Send(context.Background(), history.Event{
		Type:       history.EventFatal,
		OccurredAt: time.Now(),
		Record:     history.Record{RunID: "r", Name: "office", Port: 1080, Message: "port 1080 is already occupied"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if path != "/core-history/_doc" {
		t.Fatalf("path = %s", path)
	}
	if got["type"] != "fatal" || got["name"] != "office" || got["port"] != float64(1080) {
		t.Fatalf("document not flattened: %v", got)
	}
}

func TestOpenSearchSink_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()
	if err := New(srv.URL, "idx").Send(context.Background(), history.Event{}); err == nil {
		t.Fatalf("expected error for 400 response")
	}
}
