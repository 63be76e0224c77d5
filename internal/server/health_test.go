package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// fakePinger is a test double for the Pinger interface.
type fakePinger struct {
	name string
	err  error
	// wait, if set, runs inside Ping before err is returned.
	wait func(ctx context.Context) error
}

func (f *fakePinger) Name() string { return f.name }

func (f *fakePinger) Ping(ctx context.Context) error {
	if f.wait != nil {
		if err := f.wait(ctx); err != nil {
			return err
		}
	}
	return f.err
}

// newReadyTestServer builds a *Server with only the given pingers wired in.
func newReadyTestServer(pingers ...Pinger) *Server {
	return &Server{cfg: &Config{}, pingers: pingers}
}

func TestHandleHealth_OK(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	newReadyTestServer(&fakePinger{name: "llm", err: errors.New("down")}).
		handleHealth(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("got %d, want 200 even with a failing dependency", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q, want ok", body["status"])
	}
}

func TestHandleReady(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		pingers    []Pinger
		wantStatus int
		wantReady  bool
		wantOK     []bool
	}{
		{
			name:       "no pingers",
			wantStatus: http.StatusOK,
			wantReady:  true,
			wantOK:     []bool{},
		},
		{
			name: "all healthy",
			pingers: []Pinger{
				&fakePinger{name: "ollama"},
				&fakePinger{name: "chromem"},
			},
			wantStatus: http.StatusOK,
			wantReady:  true,
			wantOK:     []bool{true, true},
		},
		{
			name: "vector store down",
			pingers: []Pinger{
				&fakePinger{name: "ollama"},
				&fakePinger{name: "chromem", err: errors.New("connection refused")},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantOK:     []bool{true, false},
		},
		{
			name: "all down",
			pingers: []Pinger{
				&fakePinger{name: "ollama", err: errors.New("timeout")},
				&fakePinger{name: "qdrant", err: errors.New("connection refused")},
			},
			wantStatus: http.StatusServiceUnavailable,
			wantOK:     []bool{false, false},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			newReadyTestServer(tc.pingers...).handleReady(w, httptest.NewRequest(http.MethodGet, "/api/ready", nil))

			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d: %s", w.Code, tc.wantStatus, w.Body.String())
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var resp readyResponse
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Ready != tc.wantReady {
				t.Errorf("ready = %v, want %v", resp.Ready, tc.wantReady)
			}
			if len(resp.Checks) != len(tc.wantOK) {
				t.Fatalf("got %d checks, want %d", len(resp.Checks), len(tc.wantOK))
			}
			for i, c := range resp.Checks {
				if c.Name != tc.pingers[i].Name() {
					t.Errorf("check %d name = %q, want %q", i, c.Name, tc.pingers[i].Name())
				}
				if c.OK != tc.wantOK[i] {
					t.Errorf("check %q ok = %v, want %v", c.Name, c.OK, tc.wantOK[i])
				}
				if c.OK != (c.Error == "") {
					t.Errorf("check %q: ok=%v with error %q", c.Name, c.OK, c.Error)
				}
			}
		})
	}
}

// TestProbeAll_Concurrent fails unless both probes are in flight together:
// each waits for the other to start.
func TestProbeAll_Concurrent(t *testing.T) {
	t.Parallel()

	var started sync.WaitGroup
	started.Add(2)
	bothIn := make(chan struct{})
	go func() { started.Wait(); close(bothIn) }()

	wait := func(ctx context.Context) error {
		started.Done()
		select {
		case <-bothIn:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	checks := probeAll(t.Context(), []Pinger{
		&fakePinger{name: "a", wait: wait},
		&fakePinger{name: "b", wait: wait},
	})

	for _, c := range checks {
		if !c.OK {
			t.Errorf("probe %q: %s", c.Name, c.Error)
		}
	}
}
