package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"baureg-search/internal/domain"
)

type fakeService struct {
	stats      domain.Stats
	results    []domain.SearchResult
	contextOut string
	searchErr  error
	reindexed  chan struct{}
}

func (f *fakeService) Initialize(ctx context.Context) error { return nil }

func (f *fakeService) Search(ctx context.Context, query string, topK int, filters domain.Filters) ([]domain.SearchResult, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeService) ContextForQuery(ctx context.Context, query string, maxChars int, includeCitations bool) (string, error) {
	return f.contextOut, nil
}

func (f *fakeService) Reindex(ctx context.Context) error {
	if f.reindexed != nil {
		close(f.reindexed)
	}
	return nil
}

func (f *fakeService) Stats() domain.Stats { return f.stats }

type fakeCompleter struct {
	answer string
	err    error
	prompt string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string, maxTokens int, temperature float64) (string, error) {
	f.prompt = prompt
	return f.answer, f.err
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	svc := &fakeService{stats: domain.Stats{State: "ready", Ready: true}}
	router := NewRouter(NewHandler(svc, nil, 0, 0, 0))

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	var out healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, "ready", out.State)
}

func TestHandleHealthWhileStarting(t *testing.T) {
	svc := &fakeService{stats: domain.Stats{State: "building"}}
	router := NewRouter(NewHandler(svc, nil, 0, 0, 0))

	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "starting", out.Status)
}

func TestHandleStats(t *testing.T) {
	svc := &fakeService{stats: domain.Stats{
		State: "ready", Ready: true, DocumentCount: 7, EmbeddingDim: 128,
		Sources: []string{"lbo.pdf"},
	}}
	router := NewRouter(NewHandler(svc, nil, 0, 0, 0))

	rec := doJSON(t, router, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out domain.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 7, out.DocumentCount)
	assert.Equal(t, []string{"lbo.pdf"}, out.Sources)
}

func TestHandleSearch(t *testing.T) {
	svc := &fakeService{results: []domain.SearchResult{{
		Document: domain.Document{
			Content:  "Setback distances are regulated.",
			Citation: "Building Code: lbo.pdf | Page 1",
			Metadata: domain.ChunkMetadata{DocumentName: "lbo.pdf"},
		},
		Score: 0.91,
	}}}
	router := NewRouter(NewHandler(svc, nil, 0, 0, 0))

	rec := doJSON(t, router, http.MethodPost, "/search", searchRequest{Query: "setback", TopK: 3})
	require.Equal(t, http.StatusOK, rec.Code)

	var out searchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Equal(t, 1, out.Count)
	assert.Equal(t, "Building Code: lbo.pdf | Page 1", out.Results[0].Citation)
	assert.InDelta(t, 0.91, out.Results[0].Score, 1e-9)
}

func TestHandleSearchRejectsEmptyQuery(t *testing.T) {
	router := NewRouter(NewHandler(&fakeService{}, nil, 0, 0, 0))

	rec := doJSON(t, router, http.MethodPost, "/search", searchRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearchRejectsBadJSON(t *testing.T) {
	router := NewRouter(NewHandler(&fakeService{}, nil, 0, 0, 0))

	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSearchServiceError(t *testing.T) {
	svc := &fakeService{searchErr: errors.New("boom")}
	router := NewRouter(NewHandler(svc, nil, 0, 0, 0))

	rec := doJSON(t, router, http.MethodPost, "/search", searchRequest{Query: "x"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleAsk(t *testing.T) {
	svc := &fakeService{contextOut: "[Source 1] Building Code: lbo.pdf | Page 1\n\nContent: Setback distances."}
	comp := &fakeCompleter{answer: "Setbacks follow the state building code [Source 1]."}
	router := NewRouter(NewHandler(svc, comp, 2000, 512, 0.2))

	rec := doJSON(t, router, http.MethodPost, "/ask", askRequest{Query: "What are the setback rules?"})
	require.Equal(t, http.StatusOK, rec.Code)

	var out askResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, comp.answer, out.Answer)
	assert.Contains(t, out.Context, "[Source 1]")
	assert.Contains(t, comp.prompt, "What are the setback rules?")
	assert.Contains(t, comp.prompt, svc.contextOut)
}

func TestHandleAskWithoutCompleter(t *testing.T) {
	router := NewRouter(NewHandler(&fakeService{}, nil, 0, 0, 0))

	rec := doJSON(t, router, http.MethodPost, "/ask", askRequest{Query: "anything"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleAskCompleterError(t *testing.T) {
	comp := &fakeCompleter{err: errors.New("upstream down")}
	router := NewRouter(NewHandler(&fakeService{}, comp, 0, 0, 0))

	rec := doJSON(t, router, http.MethodPost, "/ask", askRequest{Query: "anything"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleReindexIsAccepted(t *testing.T) {
	svc := &fakeService{reindexed: make(chan struct{})}
	router := NewRouter(NewHandler(svc, nil, 0, 0, 0))

	rec := doJSON(t, router, http.MethodPost, "/reindex", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	<-svc.reindexed
}
