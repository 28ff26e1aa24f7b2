// Package parcsdk is a small client for the PARC HTTP API.
package parcsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a parc serve instance. Key selects the simulation; empty
// means the server default.
type Client struct {
	BaseURL    string
	Key        string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. Continuations can take minutes,
// so the default timeout is generous.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 5 * time.Minute,
	}
}

// Simulation is the API simulation model (partial).
type Simulation struct {
	SimulationTitle    string           `json:"simulationTitle"`
	ResearchDomains    []string         `json:"researchDomains"`
	GeneratedUsers     []map[string]any `json:"generatedUsers"`
	SimulationTimeline []map[string]any `json:"simulationTimeline"`
	FinalReport        string           `json:"finalReport"`
}

type SimulationResponse struct {
	Key        string     `json:"key"`
	Events     int        `json:"events"`
	Simulation Simulation `json:"simulation"`
}

type ContinueResponse struct {
	Key          string     `json:"key"`
	ChunkID      string     `json:"chunk_id"`
	Previous     int        `json:"previous"`
	Added        int        `json:"added"`
	Cursor       int        `json:"cursor"`
	Simulation   Simulation `json:"simulation"`
	StorageError string     `json:"storage_error,omitempty"`
}

type Node struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Domain string `json:"domain"`
}

type Link struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

type Graph struct {
	Cursor   int `json:"cursor"`
	Snapshot struct {
		Nodes []Node `json:"nodes"`
		Links []Link `json:"links"`
	} `json:"snapshot"`
	Highlight []string `json:"highlight,omitempty"`
}

type File struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Type    string `json:"type"`
}

type Repositories struct {
	Cursor  int               `json:"cursor"`
	Authors []string          `json:"authors"`
	Files   map[string][]File `json:"files"`
}

type SearchMatch struct {
	Author string `json:"author"`
	Path   string `json:"path"`
	Type   string `json:"type,omitempty"`
}

// Event represents a session log entry.
type Event struct {
	ID            int64          `json:"id"`
	TS            string         `json:"ts"`
	Type          string         `json:"type"`
	SimulationKey string         `json:"simulation_key"`
	ActorID       string         `json:"actor_id"`
	Payload       map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// Playback is a live session's player state.
type Playback struct {
	State    string  `json:"state"`
	Cursor   int     `json:"cursor"`
	Length   int     `json:"length"`
	Speed    float64 `json:"speed"`
	Interval int64   `json:"interval_ns"`
}

// Session is a live server-side playback session.
type Session struct {
	ID        string   `json:"id"`
	Key       string   `json:"key"`
	Title     string   `json:"title"`
	Revision  uint64   `json:"revision"`
	Playback  Playback `json:"playback"`
	Graph     Graph    `json:"graph"`
	Remaining string   `json:"remaining,omitempty"`
	Busy      bool     `json:"busy"`
	LastError string   `json:"last_error,omitempty"`
}

// APIError wraps non-2xx responses. Code is the envelope's error code when
// the body carried one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "v0/health", nil, nil)
}

// Simulation fetches the stored simulation.
func (c *Client) Simulation(ctx context.Context) (SimulationResponse, error) {
	var resp SimulationResponse
	err := c.do(ctx, http.MethodGet, c.simPath("simulation", nil), nil, &resp)
	return resp, err
}

// Continue generates and merges the next chunk.
func (c *Client) Continue(ctx context.Context) (ContinueResponse, error) {
	var resp ContinueResponse
	err := c.do(ctx, http.MethodPost, c.simPath("simulation/continue", nil), nil, &resp)
	return resp, err
}

// Import replaces the stored simulation with an exported document.
func (c *Client) Import(ctx context.Context, doc []byte) (SimulationResponse, error) {
	var resp SimulationResponse
	err := c.do(ctx, http.MethodPost, c.simPath("simulation/import", nil), json.RawMessage(doc), &resp)
	return resp, err
}

// Export returns the exported document and its suggested file name.
func (c *Client) Export(ctx context.Context) ([]byte, string, error) {
	res, err := c.send(ctx, http.MethodGet, c.simPath("simulation/export", nil), nil)
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", err
	}
	var filename string
	if _, params, err := mime.ParseMediaType(res.Header.Get("Content-Disposition")); err == nil {
		filename = params["filename"]
	}
	return data, filename, nil
}

func (c *Client) Reset(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, c.simPath("simulation", nil), nil, nil)
}

// Graph returns the knowledge graph; cursor is an event index or "" for all.
func (c *Client) Graph(ctx context.Context, cursor string) (Graph, error) {
	var resp Graph
	err := c.do(ctx, http.MethodGet, c.simPath("simulation/graph", url.Values{"cursor": {cursor}}), nil, &resp)
	return resp, err
}

func (c *Client) Repositories(ctx context.Context, cursor string) (Repositories, error) {
	var resp Repositories
	err := c.do(ctx, http.MethodGet, c.simPath("simulation/repositories", url.Values{"cursor": {cursor}}), nil, &resp)
	return resp, err
}

func (c *Client) Search(ctx context.Context, term, cursor string) ([]SearchMatch, error) {
	var resp struct {
		Matches []SearchMatch `json:"matches"`
	}
	err := c.do(ctx, http.MethodGet, c.simPath("simulation/search", url.Values{"q": {term}, "cursor": {cursor}}), nil, &resp)
	return resp.Matches, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, c.simPath("events", q), nil, &resp)
	return resp, err
}

// OpenSession starts a live playback session, bounded when duration > 0.
func (c *Client) OpenSession(ctx context.Context, duration time.Duration) (Session, error) {
	body := map[string]any{"key": c.Key}
	if duration > 0 {
		body["duration_seconds"] = int(duration / time.Second)
	}
	var resp Session
	err := c.do(ctx, http.MethodPost, "v0/sessions", body, &resp)
	return resp, err
}

func (c *Client) GetSession(ctx context.Context, id string) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodGet, sessionPath(id, ""), nil, &resp)
	return resp, err
}

func (c *Client) CloseSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(id, ""), nil, nil)
}

func (c *Client) Play(ctx context.Context, id string) (Session, error) {
	return c.sessionAction(ctx, id, "play", nil)
}

func (c *Client) Pause(ctx context.Context, id string) (Session, error) {
	return c.sessionAction(ctx, id, "pause", nil)
}

func (c *Client) Seek(ctx context.Context, id string, index int) (Session, error) {
	return c.sessionAction(ctx, id, "seek", map[string]any{"index": index})
}

func (c *Client) SetSpeed(ctx context.Context, id string, speed float64) (Session, error) {
	return c.sessionAction(ctx, id, "speed", map[string]any{"speed": speed})
}

func (c *Client) sessionAction(ctx context.Context, id, action string, body any) (Session, error) {
	var resp Session
	err := c.do(ctx, http.MethodPost, sessionPath(id, action), body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	res, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return nil, apiErr
	}
	return resp, nil
}

func (c *Client) simPath(p string, q url.Values) string {
	if q == nil {
		q = url.Values{}
	}
	if c.Key != "" {
		q.Set("key", c.Key)
	}
	for k, v := range q {
		if len(v) == 1 && v[0] == "" {
			delete(q, k)
		}
	}
	endpoint := "v0/" + strings.TrimLeft(p, "/")
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	return endpoint
}

func sessionPath(id, action string) string {
	p := "v0/sessions/" + url.PathEscape(id)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
