// Package api exposes the hub to local tools over HTTP on the same listener
// as the browser websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"flowtabs/internal/dispatch"
	"flowtabs/internal/hub"
	"flowtabs/internal/model"

	"go.uber.org/zap"
)

// Backend is the hub surface the API drives.
type Backend interface {
	Views(ctx context.Context) (model.Views, error)
	Subscribe() (<-chan model.Views, func())
	SetFavorite(ctx context.Context, key model.Key, favorite bool) (bool, error)
	Select(ctx context.Context, key model.Key) error
	Search(ctx context.Context, query string) error
}

type Server struct {
	b   Backend
	log *zap.Logger
}

func NewServer(b Backend, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{b: b, log: log}
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /views", s.handleViews)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("POST /favorites", s.handleFavorite)
	mux.HandleFunc("POST /activate", s.handleActivate)
	mux.HandleFunc("POST /search", s.handleSearch)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

type FavoriteRequest struct {
	Kind     model.Kind `json:"kind"`
	ID       model.ID   `json:"id"`
	Favorite bool       `json:"favorite"`
}

type ActivateRequest struct {
	Kind model.Kind `json:"kind"`
	ID   model.ID   `json:"id"`
}

type SearchRequest struct {
	Query string `json:"query"`
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, hub.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrEmptyQuery):
		return http.StatusBadRequest
	case errors.Is(err, hub.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func parseKey(kind model.Kind, id model.ID) (model.Key, error) {
	k, err := model.ParseKind(string(kind))
	if err != nil {
		return model.Key{}, err
	}
	if strings.TrimSpace(string(id)) == "" {
		return model.Key{}, errors.New("missing id")
	}
	return model.Key{Kind: k, ID: id}, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	v, err := s.b.Views(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleEvents streams every published views value as a server-sent event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	views, cancel := s.b.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case v, ok := <-views:
			if !ok {
				return
			}
			data, err := json.Marshal(v)
			if err != nil {
				s.log.Warn("encode views", zap.Error(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "event: views\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleFavorite(w http.ResponseWriter, r *http.Request) {
	var req FavoriteRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key, err := parseKey(req.Kind, req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.b.SetFavorite(r.Context(), key, req.Favorite); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.log.Debug("favorite", zap.Stringer("item", key), zap.Bool("favorite", req.Favorite))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	key, err := parseKey(req.Kind, req.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.b.Select(r.Context(), key); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.b.Search(r.Context(), req.Query); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
