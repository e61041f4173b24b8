// Package api provides HTTP handlers for the regulation search service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"baureg-search/internal/domain"
	"baureg-search/internal/service"
)

// Handler holds the dependencies for HTTP handlers.
type Handler struct {
	svc             domain.RAGService
	completer       domain.Completer
	maxContextChars int
	maxTokens       int
	temperature     float64
}

// NewHandler creates a Handler over the retrieval service. completer may
// be nil, in which case /ask reports the answering model as unavailable.
func NewHandler(svc domain.RAGService, completer domain.Completer, maxContextChars, maxTokens int, temperature float64) *Handler {
	if maxContextChars <= 0 {
		maxContextChars = 2000
	}
	return &Handler{
		svc:             svc,
		completer:       completer,
		maxContextChars: maxContextChars,
		maxTokens:       maxTokens,
		temperature:     temperature,
	}
}

type searchRequest struct {
	Query        string `json:"query"`
	TopK         int    `json:"top_k"`
	District     string `json:"district"`
	DocumentType string `json:"document_type"`
}

type searchResult struct {
	Content  string               `json:"content"`
	Citation string               `json:"citation"`
	Source   string               `json:"source"`
	Score    float64              `json:"score"`
	Metadata domain.ChunkMetadata `json:"metadata"`
}

type searchResponse struct {
	Results []searchResult `json:"results"`
	Count   int            `json:"count"`
}

type askRequest struct {
	Query string `json:"query"`
}

type askResponse struct {
	Answer  string `json:"answer"`
	Context string `json:"context"`
}

type healthResponse struct {
	Status string `json:"status"`
	State  string `json:"state"`
}

// HandleHealth handles GET /health requests.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	st := h.svc.Stats()
	status := "starting"
	if st.Ready {
		status = "ok"
	}
	sendJSON(w, http.StatusOK, healthResponse{Status: status, State: st.State})
}

// HandleStats handles GET /stats requests.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, h.svc.Stats())
}

// HandleSearch handles POST /search requests.
func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON: " + err.Error()})
		return
	}
	if req.Query == "" {
		sendJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}

	filters := domain.Filters{District: req.District, DocumentType: req.DocumentType}
	results, err := h.svc.Search(r.Context(), req.Query, req.TopK, filters)
	if err != nil {
		sendJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	out := make([]searchResult, 0, len(results))
	for _, res := range results {
		out = append(out, searchResult{
			Content:  res.Document.Content,
			Citation: res.Document.Citation,
			Source:   res.Document.Source,
			Score:    res.Score,
			Metadata: res.Document.Metadata,
		})
	}
	sendJSON(w, http.StatusOK, searchResponse{Results: out, Count: len(out)})
}

// HandleAsk handles POST /ask requests: retrieve context, then complete.
func (h *Handler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON: " + err.Error()})
		return
	}
	if req.Query == "" {
		sendJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	if h.completer == nil {
		sendJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "answering model not configured"})
		return
	}

	contextBlock, err := h.svc.ContextForQuery(r.Context(), req.Query, h.maxContextChars, true)
	if err != nil {
		sendJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	prompt := buildPrompt(req.Query, contextBlock)
	answer, err := h.completer.Complete(r.Context(), prompt, h.maxTokens, h.temperature)
	if err != nil {
		sendJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	sendJSON(w, http.StatusOK, askResponse{Answer: answer, Context: contextBlock})
}

// HandleReindex handles POST /reindex requests. The rebuild runs in the
// background; a request arriving while a build is already running is a
// no-op.
func (h *Handler) HandleReindex(w http.ResponseWriter, r *http.Request) {
	go func() {
		if err := h.svc.Reindex(context.Background()); err != nil {
			if errors.Is(err, service.ErrBuildInProgress) {
				return
			}
			log.Printf("reindex: %v", err)
		}
	}()
	sendJSON(w, http.StatusAccepted, map[string]string{"status": "reindex started"})
}

func buildPrompt(query, contextBlock string) string {
	return fmt.Sprintf(`You are an assistant for Stuttgart building regulations. Answer the question using only the provided context. Cite the sources you use by their [Source N] labels. If the context does not contain the answer, say so.

Context:
%s

Question: %s

Answer:`, contextBlock, query)
}

// sendJSON sends a JSON response with the given status code.
func sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
