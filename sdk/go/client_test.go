package parcsdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientSendsKeyAndDecodes(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(map[string]any{"cursor": 2, "snapshot": map[string]any{"nodes": []map[string]any{{"id": "n1"}}}})
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.Key = "lab"
	g, err := c.Graph(context.Background(), "2")
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	if gotPath != "/v0/simulation/graph" || gotQuery != "cursor=2&key=lab" {
		t.Fatalf("unexpected request %s?%s", gotPath, gotQuery)
	}
	if g.Cursor != 2 || len(g.Snapshot.Nodes) != 1 || g.Snapshot.Nodes[0].ID != "n1" {
		t.Fatalf("unexpected graph %+v", g)
	}
}

func TestClientOmitsEmptyQueryValues(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"cursor":-1,"authors":[],"files":{}}`))
	}))
	defer srv.Close()
	if _, err := New(srv.URL).Repositories(context.Background(), ""); err != nil {
		t.Fatalf("repositories: %v", err)
	}
	if gotQuery != "" {
		t.Fatalf("expected no query, got %q", gotQuery)
	}
}

func TestClientParsesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":{"code":"busy","message":"a continuation is already in flight"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Continue(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusConflict || apiErr.Code != "busy" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
}

func TestImportSendsRawDocumentAndExportReadsFilename(t *testing.T) {
	doc := []byte(`{"simulationTitle":"T","researchDomains":["d"],"generatedUsers":[{"name":"Ada"}],"simulationTimeline":[]}`)
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v0/simulation/import":
			received, _ = io.ReadAll(r.Body)
			_, _ = w.Write([]byte(`{"key":"k","events":0,"simulation":{"simulationTitle":"T"}}`))
		case "/v0/simulation/export":
			w.Header().Set("Content-Disposition", `attachment; filename="parc-simulation-2025-01-01T00-00-00.json"`)
			_, _ = w.Write(doc)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	resp, err := c.Import(context.Background(), doc)
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if resp.Simulation.SimulationTitle != "T" {
		t.Fatalf("unexpected import response %+v", resp)
	}
	var sent, want any
	_ = json.Unmarshal(received, &sent)
	_ = json.Unmarshal(doc, &want)
	if sentJSON, _ := json.Marshal(sent); string(sentJSON) != mustMarshal(t, want) {
		t.Fatalf("document altered in transit: %s", received)
	}

	data, name, err := c.Export(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if name != "parc-simulation-2025-01-01T00-00-00.json" || string(data) != string(doc) {
		t.Fatalf("unexpected export %q %s", name, data)
	}
}

func TestOpenSessionSendsDuration(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"s1","playback":{"state":"idle","cursor":-1}}`))
	}))
	defer srv.Close()

	s, err := New(srv.URL).OpenSession(context.Background(), 90*time.Second)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if s.ID != "s1" || s.Playback.State != "idle" {
		t.Fatalf("unexpected session %+v", s)
	}
	if body["duration_seconds"] != float64(90) {
		t.Fatalf("unexpected body %v", body)
	}
}

func mustMarshal(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(b)
}
