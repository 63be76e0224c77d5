package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/rag"
	"github.com/54b3r/docrag-go/internal/store"
)

func TestResolveDocument(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		root    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "empty", raw: "", wantErr: true},
		{name: "relative", raw: "docs/report.pdf", wantErr: true},
		{name: "absolute without root", raw: "/srv/docs/../report.pdf", want: "/srv/report.pdf"},
		{name: "inside root", root: "/srv/docs", raw: "/srv/docs/q3/report.pdf", want: "/srv/docs/q3/report.pdf"},
		{name: "traversal", root: "/srv/docs", raw: "/srv/docs/../../etc/passwd", wantErr: true},
		{name: "sibling prefix", root: "/srv/docs", raw: "/srv/docs-private/a.pdf", wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := resolveDocument(tc.root, tc.raw)
			if (err != nil) != tc.wantErr {
				t.Fatalf("resolveDocument() error = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, rag.ErrInvalidInput) {
				t.Errorf("error %v is not ErrInvalidInput", err)
			}
			if got != tc.want {
				t.Errorf("resolveDocument() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestHandleIngest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		skipped  bool
		err      error
		wantCode int
		wantColl string
	}{
		{name: "ingested", body: `{"path":"/docs/report.pdf"}`, wantCode: http.StatusCreated, wantColl: "report"},
		{name: "named", body: `{"path":"/docs/report.pdf","collection":"q3"}`, wantCode: http.StatusCreated, wantColl: "q3"},
		{name: "skipped", body: `{"path":"/docs/report.pdf"}`, skipped: true, wantCode: http.StatusOK, wantColl: "report"},
		{name: "outside root", body: `{"path":"/etc/passwd"}`, wantCode: http.StatusBadRequest},
		{name: "bad json", body: `{`, wantCode: http.StatusBadRequest},
		{
			name:     "extraction failure",
			body:     `{"path":"/docs/broken.pdf"}`,
			err:      fmt.Errorf("ingestion: %w: not a pdf", rag.ErrExtraction),
			wantCode: http.StatusUnprocessableEntity,
		},
		{
			name:     "embedding failure",
			body:     `{"path":"/docs/report.pdf"}`,
			err:      fmt.Errorf("ingestion: %w", rag.ErrEmbedding),
			wantCode: http.StatusBadGateway,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := newDeps(t)
			d.ingester.res.Skipped = tc.skipped
			d.ingester.err = tc.err
			s := newTestServer(t, d, &Config{DocumentRoot: "/docs"})

			w := do(t, s, http.MethodPost, "/api/ingest", tc.body)
			if w.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d: %s", tc.wantCode, w.Code, w.Body.String())
			}
			if tc.wantColl == "" {
				return
			}
			var res ingestion.Result
			if err := json.NewDecoder(w.Body).Decode(&res); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if res.Collection != tc.wantColl || res.Skipped != tc.skipped {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestHandleIngest_RejectedPathNeverReachesPipeline(t *testing.T) {
	t.Parallel()
	d := newDeps(t)
	s := newTestServer(t, d, &Config{DocumentRoot: "/docs"})

	do(t, s, http.MethodPost, "/api/ingest", `{"path":"relative.pdf"}`)
	if d.ingester.gotCalls != 0 {
		t.Errorf("ingester called %d times", d.ingester.gotCalls)
	}
}

func TestCollections_ListAndDelete(t *testing.T) {
	t.Parallel()
	d := newDeps(t)
	ctx := context.Background()
	if err := d.history.Append(ctx, "report",
		store.Message{Role: store.RoleUser, Content: "q"},
		store.Message{Role: store.RoleAssistant, Content: "a"},
	); err != nil {
		t.Fatalf("append: %v", err)
	}
	s := newTestServer(t, d, nil)

	w := do(t, s, http.MethodGet, "/api/collections", "")
	var list collectionsResponse
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Collections) != 1 || list.Collections[0].Name != "report" {
		t.Fatalf("collections = %+v", list.Collections)
	}

	w = do(t, s, http.MethodDelete, "/api/collections/report", "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var del deleteResponse
	if err := json.NewDecoder(w.Body).Decode(&del); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if del.Name != "report" || del.Deleted != 2 {
		t.Errorf("delete response = %+v", del)
	}

	w = do(t, s, http.MethodGet, "/api/collections", "")
	if !strings.Contains(w.Body.String(), `"collections":[]`) {
		t.Errorf("expected empty list, got %s", w.Body.String())
	}

	if w = do(t, s, http.MethodDelete, "/api/collections/report", ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}
}

func TestHistory_ImportExportClear(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, newDeps(t), nil)

	body := `[{"role":"user","content":"what grew?"},{"role":"assistant","content":"revenue"}]`
	w := do(t, s, http.MethodPost, "/api/history/report", body)
	if w.Code != http.StatusOK {
		t.Fatalf("import: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var imp importResponse
	if err := json.NewDecoder(w.Body).Decode(&imp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if imp.Imported != 2 {
		t.Errorf("imported = %d, want 2", imp.Imported)
	}

	w = do(t, s, http.MethodGet, "/api/history/report", "")
	var msgs []store.Message
	if err := json.NewDecoder(w.Body).Decode(&msgs); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != store.RoleUser || msgs[1].Content != "revenue" {
		t.Errorf("exported = %+v", msgs)
	}

	if w = do(t, s, http.MethodPost, "/api/history/report", `[{"role":"system","content":"x"}]`); w.Code != http.StatusBadRequest {
		t.Errorf("bad role: expected 400, got %d", w.Code)
	}

	w = do(t, s, http.MethodDelete, "/api/history/report", "")
	var del deleteResponse
	if err := json.NewDecoder(w.Body).Decode(&del); err != nil {
		t.Fatalf("decode clear: %v", err)
	}
	if del.Deleted != 2 {
		t.Errorf("cleared = %d, want 2", del.Deleted)
	}

	w = do(t, s, http.MethodGet, "/api/history/report", "")
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("history after clear = %s", w.Body.String())
	}
}

func TestHistory_Disabled(t *testing.T) {
	t.Parallel()
	d := newDeps(t)
	d.history = nil
	s := newTestServer(t, d, nil)

	if w := do(t, s, http.MethodGet, "/api/history/report", ""); w.Code != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", w.Code)
	}
}
