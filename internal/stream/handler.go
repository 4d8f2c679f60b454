package stream

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"stream-relay/internal/platform/logger"
	"stream-relay/internal/source"

	"github.com/go-chi/chi/v5"
)

const streamContentType = "video/MP2T"

// SinkOptions configures the per-client sink of stream responses.
type SinkOptions struct {
	// QueueChunks is how many chunks a client may lag behind before it is
	// dropped. Zero means DefaultSinkQueue.
	QueueChunks int

	// WriteTimeout bounds each write to the client. Zero disables it.
	WriteTimeout time.Duration
}

// Handler exposes stream endpoints using go-chi.
type Handler struct {
	svc      *Service
	resolver *source.Resolver
	log      *slog.Logger
	access   *logger.AccessLog
	opts     SinkOptions
}

// NewHandler returns a Handler. access may be nil to disable the access log.
func NewHandler(svc *Service, resolver *source.Resolver, log *slog.Logger, access *logger.AccessLog, opts SinkOptions) *Handler {
	return &Handler{svc: svc, resolver: resolver, log: log, access: access, opts: opts}
}

// Catchup handles GET /catchup/*. The escaped remainder of the path becomes
// the upstream locator; a query string makes the request private.
func (h *Handler) Catchup(w http.ResponseWriter, r *http.Request) {
	rawPath := strings.TrimPrefix(r.URL.EscapedPath(), "/catchup/")
	target, err := h.resolver.ResolveCatchup(rawPath, r.URL.RawQuery)
	h.serve(w, r, target, err)
}

// Channel handles GET /tv/{channel}[?tvdr=...].
func (h *Handler) Channel(w http.ResponseWriter, r *http.Request) {
	target, err := h.resolver.ResolveChannel(chi.URLParam(r, "channel"), r.URL.Query())
	h.serve(w, r, target, err)
}

// ListSessions handles GET /sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(h.svc.Sessions())
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, target source.Target, err error) {
	if err != nil {
		status := resolutionStatus(err)
		h.log.Info("source resolution failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()))
		http.Error(w, http.StatusText(status), status)
		return
	}

	h.access.Record(r.RemoteAddr, r.URL.RequestURI(), target.Locator)
	h.log.Info("stream requested",
		slog.String("remote", r.RemoteAddr),
		slog.String("locator", target.Locator),
		slog.Bool("shareable", target.Shareable))

	sink := NewClientSink(h.opts.QueueChunks)
	sess, err := h.svc.Open(Locator(target.Locator), target.Shareable, sink)
	if err != nil {
		h.log.Error("open session failed",
			slog.String("locator", target.Locator),
			slog.String("error", err.Error()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	defer h.svc.Close(sess, sink)

	w.Header().Set("Content-Type", streamContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	rc.Flush()

	err = sink.Pump(r.Context(), func(chunk []byte) error {
		if h.opts.WriteTimeout > 0 {
			// Not every writer supports deadlines (e.g. test recorders).
			_ = rc.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
		}
		if _, err := w.Write(chunk); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	})

	switch {
	case err == nil:
		h.log.Debug("stream ended by upstream", slog.String("session_id", sess.ID()))
	case errors.Is(err, context.Canceled):
		h.log.Debug("client disconnected", slog.String("session_id", sess.ID()))
	case errors.Is(err, ErrSinkOverflow):
		h.log.Warn("client too slow, dropped",
			slog.String("session_id", sess.ID()),
			slog.String("remote", r.RemoteAddr))
	default:
		h.log.Debug("stream write ended",
			slog.String("session_id", sess.ID()),
			slog.String("error", err.Error()))
	}
}

func resolutionStatus(err error) int {
	switch {
	case errors.Is(err, source.ErrChannelNotFound):
		return http.StatusNotFound
	case errors.Is(err, source.ErrResolution):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
