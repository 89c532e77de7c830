// Package status serves read-only relay statistics and backlog over HTTP.
package status

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/juju/errors"
	"github.com/temoto/telerelay/internal/buffer"
	"github.com/temoto/telerelay/log2"
	"github.com/temoto/telerelay/tele"
)

type Config struct {
	Listen string `hcl:"listen"` // empty = disabled
}

type Handler struct {
	log  *log2.Log
	stat *tele.Stat
	buf  buffer.Buffer
	mode string
}

type backlogItem struct {
	ID         int64           `json:"id"`
	InsertedAt time.Time       `json:"inserted_at"`
	Envelope   json.RawMessage `json:"envelope,omitempty"`
	Raw        string          `json:"raw,omitempty"`
	Error      string          `json:"error,omitempty"`
}

func NewHandler(log *log2.Log, stat *tele.Stat, buf buffer.Buffer, mode string) *Handler {
	return &Handler{log: log, stat: stat, buf: buf, mode: mode}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/stat", h.getStat)
	r.Get("/buffer", h.getBuffer)
	return r
}

func (h *Handler) getStat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		Mode string `json:"mode"`
		tele.StatSnapshot
	}{h.mode, h.stat.Snapshot()})
}

func (h *Handler) getBuffer(w http.ResponseWriter, r *http.Request) {
	ms, err := h.buf.List(r.Context())
	if err != nil {
		h.log.Errorf("status buffer list err=%v", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}
	items := make([]backlogItem, 0, len(ms))
	for _, m := range ms {
		item := backlogItem{ID: m.ID, InsertedAt: m.InsertedAt}
		if _, err := tele.ParseEnvelope(m.Payload); err != nil {
			item.Raw, item.Error = string(m.Payload), err.Error()
		} else {
			item.Envelope = m.Payload
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// Server runs Handler until ctx is done.
type Server struct {
	log *log2.Log
	srv *http.Server
	ln  net.Listener
}

func Listen(log *log2.Log, addr string, h *Handler) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Annotatef(err, "status listen=%s", addr)
	}
	s := &Server{
		log: log,
		ln:  ln,
		srv: &http.Server{
			Handler:      h.Routes(),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
	return s, nil
}

func (s *Server) Addr() string { return s.ln.Addr().String() }

func (s *Server) Serve() error {
	s.log.Infof("status http listen=%s", s.Addr())
	if err := s.srv.Serve(s.ln); err != nil && err != http.ErrServerClosed {
		return errors.Annotate(err, "status serve")
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return errors.Annotate(s.srv.Shutdown(ctx), "status shutdown")
}
