// Package httpapi exposes a remote.Service over JSON/HTTP and provides the
// matching client.
//
// Routes:
//
//	POST   /items            insert
//	GET    /items/{id}       get (tombstones included)
//	PUT    /items/{id}       update, 409 with the server snapshot on conflict
//	DELETE /items/{id}       delete, ?version= required
//	POST   /items/query      incremental query
//	GET    /health           liveness
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/rs/cors"

	"github.com/mschirtzinger/todosync/internal/remote"
	"github.com/mschirtzinger/todosync/internal/todo"
)

// maxBodySize bounds request bodies and error responses read by Client.
const maxBodySize = 1 << 20

// QueryRequest is the body of POST /items/query.
type QueryRequest struct {
	Query  string      `json:"query"`
	Since  time.Time   `json:"since"`
	Filter todo.Filter `json:"filter"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	// Server is set on 409 responses.
	Server *todo.Item `json:"server,omitempty"`
}

// Handler serves a remote.Service.
type Handler struct {
	svc    remote.Service
	logger *log.Logger
	mux    *http.ServeMux
}

// NewHandler creates a handler for svc. If logger is nil, logs go to stderr.
func NewHandler(svc remote.Service, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[serve] ", log.LstdFlags)
	}

	h := &Handler{svc: svc, logger: logger, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /items", h.handleInsert)
	h.mux.HandleFunc("POST /items/query", h.handleQuery)
	h.mux.HandleFunc("GET /items/{id}", h.handleGet)
	h.mux.HandleFunc("PUT /items/{id}", h.handleUpdate)
	h.mux.HandleFunc("DELETE /items/{id}", h.handleDelete)
	h.mux.HandleFunc("GET /health", h.handleHealth)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// WithCORS wraps the handler so browser clients on other origins can call
// it.
func (h *Handler) WithCORS(allowedOrigins []string) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(h)
}

func (h *Handler) handleInsert(w http.ResponseWriter, r *http.Request) {
	var item todo.Item
	if !h.decode(w, r, &item) {
		return
	}

	created, err := h.svc.Insert(r.Context(), &item)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respond(w, http.StatusCreated, created)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	item, err := h.svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respond(w, http.StatusOK, item)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var item todo.Item
	if !h.decode(w, r, &item) {
		return
	}
	item.ID = r.PathValue("id")

	updated, err := h.svc.Update(r.Context(), &item)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	h.respond(w, http.StatusOK, updated)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	version := r.URL.Query().Get("version")
	if version == "" {
		h.respond(w, http.StatusBadRequest, ErrorResponse{Error: "version is required"})
		return
	}

	if err := h.svc.Delete(r.Context(), r.PathValue("id"), version); err != nil {
		h.respondErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if !h.decode(w, r, &req) {
		return
	}

	items, err := h.svc.QuerySince(r.Context(), req.Query, req.Since, req.Filter)
	if err != nil {
		h.respondErr(w, err)
		return
	}
	if items == nil {
		items = []*todo.Item{}
	}
	h.respond(w, http.StatusOK, items)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodySize)
	data, err := io.ReadAll(body)
	if err != nil {
		h.respond(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "request body too large"})
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		h.respond(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid JSON: %v", err)})
		return false
	}
	return true
}

func (h *Handler) respondErr(w http.ResponseWriter, err error) {
	if conflict, ok := remote.AsConflict(err); ok {
		h.respond(w, http.StatusConflict, ErrorResponse{Error: err.Error(), Server: conflict.Server})
		return
	}
	if errors.Is(err, remote.ErrNotFound) {
		h.respond(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
		return
	}

	h.logger.Printf("Request failed: %v", err)
	h.respond(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
}

func (h *Handler) respond(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Printf("Failed to write response: %v", err)
	}
}
