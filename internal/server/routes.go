package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"parc/internal/domain"
	"parc/internal/engine"
	"parc/internal/explorer"
	"parc/internal/graph"
	"parc/internal/repo"
)

const apiActor = "api"

type keyQuery struct {
	Key string `query:"key" doc:"Simulation key; the configured default when empty"`
}

type viewQuery struct {
	Key    string `query:"key" doc:"Simulation key; the configured default when empty"`
	Cursor string `query:"cursor" doc:"Last event index to fold, or 'all'" example:"all"`
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerSimulation(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-simulations",
		Method:      http.MethodGet,
		Path:        "/simulations",
		Summary:     "List stored simulations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.StoredSimulation `json:"body"`
	}, error) {
		items, err := e.List(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.StoredSimulation{}
		}
		return &struct {
			Body []domain.StoredSimulation `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-simulation",
		Method:      http.MethodGet,
		Path:        "/simulation",
		Summary:     "Get the stored simulation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *keyQuery) (*struct {
		Body SimulationResponse `json:"body"`
	}, error) {
		sim, err := e.Get(ctx, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SimulationResponse `json:"body"`
		}{Body: SimulationResponse{Key: e.Key(input.Key), Events: sim.Len(), Simulation: sim}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "continue-simulation",
		Method:      http.MethodPost,
		Path:        "/simulation/continue",
		Summary:     "Generate and merge the next timeline chunk",
		Errors:      []int{http.StatusBadGateway, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *keyQuery) (*struct {
		Body ContinueResponse `json:"body"`
	}, error) {
		res, err := e.Continue(ctx, input.Key, apiActor)
		var serr *repo.StorageError
		if err != nil && !errors.As(err, &serr) {
			return nil, handleError(err)
		}
		body := continueResponse(e.Key(input.Key), res)
		if serr != nil {
			body.StorageError = serr.Error()
		}
		return &struct {
			Body ContinueResponse `json:"body"`
		}{Body: body}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "import-simulation",
		Method:      http.MethodPost,
		Path:        "/simulation/import",
		Summary:     "Replace the stored simulation with an exported document",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Key     string `query:"key"`
		RawBody []byte `contentType:"application/json"`
	}) (*struct {
		Body SimulationResponse `json:"body"`
	}, error) {
		sim, err := e.Import(ctx, input.Key, input.RawBody, apiActor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SimulationResponse `json:"body"`
		}{Body: SimulationResponse{Key: e.Key(input.Key), Events: sim.Len(), Simulation: sim}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "export-simulation",
		Method:      http.MethodGet,
		Path:        "/simulation/export",
		Summary:     "Download the stored simulation as a document",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *keyQuery) (*struct {
		ContentType        string `header:"Content-Type"`
		ContentDisposition string `header:"Content-Disposition"`
		Body               []byte
	}, error) {
		data, name, err := e.Export(ctx, input.Key)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			ContentType        string `header:"Content-Type"`
			ContentDisposition string `header:"Content-Disposition"`
			Body               []byte
		}{
			ContentType:        "application/json",
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", name),
			Body:               data,
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "reset-simulation",
		Method:        http.MethodDelete,
		Path:          "/simulation",
		Summary:       "Delete the stored simulation",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *keyQuery) (*struct{}, error) {
		if err := e.Reset(ctx, input.Key, apiActor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerViews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-graph",
		Method:      http.MethodGet,
		Path:        "/simulation/graph",
		Summary:     "Knowledge graph at a cursor",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *viewQuery) (*struct {
		Body engine.GraphView `json:"body"`
	}, error) {
		cursor, err := parseCursor(input.Cursor)
		if err != nil {
			return nil, err
		}
		view, err := e.Graph(ctx, input.Key, cursor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.GraphView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-repositories",
		Method:      http.MethodGet,
		Path:        "/simulation/repositories",
		Summary:     "Per-author repositories at a cursor",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *viewQuery) (*struct {
		Body engine.RepositoryView `json:"body"`
	}, error) {
		cursor, err := parseCursor(input.Cursor)
		if err != nil {
			return nil, err
		}
		view, err := e.Repositories(ctx, input.Key, cursor)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.RepositoryView `json:"body"`
		}{Body: view}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-tree",
		Method:      http.MethodGet,
		Path:        "/simulation/tree",
		Summary:     "File tree of one author's repository",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		viewQuery
		Author string `query:"author" required:"true"`
		Types  string `query:"types" doc:"Comma separated file types to keep"`
	}) (*struct {
		Body TreeResponse `json:"body"`
	}, error) {
		cursor, err := parseCursor(input.Cursor)
		if err != nil {
			return nil, err
		}
		filter, err := parseFilter(input.Types)
		if err != nil {
			return nil, err
		}
		items, err := e.Tree(ctx, input.Key, cursor, input.Author, filter)
		if err != nil {
			return nil, handleError(err)
		}
		resp := TreeResponse{Author: input.Author, Items: []TreeItem{}}
		for _, it := range items {
			item := TreeItem{Path: it.Path, Name: it.Name, Level: it.Level, IsDir: it.IsDir}
			if it.File != nil {
				item.Type = it.File.Type
			}
			resp.Items = append(resp.Items, item)
		}
		return &struct {
			Body TreeResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "run-file",
		Method:      http.MethodGet,
		Path:        "/simulation/run",
		Summary:     "Run a script or analyze a dataset from an author's repository",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		viewQuery
		Author string `query:"author" required:"true"`
		Path   string `query:"path" required:"true"`
	}) (*struct {
		Body explorer.RunReport `json:"body"`
	}, error) {
		cursor, err := parseCursor(input.Cursor)
		if err != nil {
			return nil, err
		}
		report, err := e.RunFile(ctx, input.Key, cursor, input.Author, input.Path)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body explorer.RunReport `json:"body"`
		}{Body: report}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-files",
		Method:      http.MethodGet,
		Path:        "/simulation/search",
		Summary:     "Search repository files by path or content",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		viewQuery
		Q string `query:"q" required:"true" minLength:"1"`
	}) (*struct {
		Body SearchResponse `json:"body"`
	}, error) {
		cursor, err := parseCursor(input.Cursor)
		if err != nil {
			return nil, err
		}
		matches, err := e.Search(ctx, input.Key, cursor, input.Q)
		if err != nil {
			return nil, handleError(err)
		}
		resp := SearchResponse{Term: input.Q, Matches: []SearchMatch{}}
		for _, m := range matches {
			resp.Matches = append(resp.Matches, SearchMatch{Author: m.Author, Path: m.File.Path, Type: m.File.Type})
		}
		return &struct {
			Body SearchResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent session events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Key    string `query:"key"`
		Type   string `query:"type"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.SessionEvents(ctx, limit+1, cursorID, input.Key, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func continueResponse(key string, res engine.ContinueResult) ContinueResponse {
	return ContinueResponse{
		Key:        key,
		ChunkID:    res.ChunkID,
		Previous:   res.Previous,
		Added:      res.Added,
		Cursor:     res.Cursor(),
		Simulation: res.Simulation,
	}
}

func parseCursor(raw string) (graph.Cursor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "all" {
		return graph.All, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": raw})
	}
	return graph.At(v), nil
}

func parseFilter(raw string) (explorer.Filter, error) {
	var types []domain.FileType
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		ft := domain.FileType(part)
		if !ft.Valid() {
			return explorer.Filter{}, newAPIError(http.StatusBadRequest, "bad_request", "unknown file type "+part, map[string]any{"type": part})
		}
		types = append(types, ft)
	}
	return explorer.NewFilter(types...), nil
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 500 {
		return 500
	}
	return in
}
