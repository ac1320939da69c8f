package hls

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"media-packager/internal/platform/metrics"
)

const playlistContentType = "application/vnd.apple.mpegurl"

// Handler exposes the playlists over HTTP using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes mounts the playlist endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/master.m3u8", h.GetMaster)
	r.Get("/playlists/{playlist}", h.GetPlaylist)
}

// GetMaster handles GET /master.m3u8.
func (h *Handler) GetMaster(w http.ResponseWriter, r *http.Request) {
	m3u8, ok := h.svc.MasterPlaylist()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.write(w, m3u8)
}

// GetPlaylist handles GET /playlists/{playlist}.
func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "playlist")
	if name == "" || !strings.HasSuffix(name, ".m3u8") {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	m3u8, ok := h.svc.MediaPlaylist(name)
	if !ok {
		h.log.Debug("playlist not found", slog.String("playlist", name))
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.write(w, m3u8)
}

func (h *Handler) write(w http.ResponseWriter, m3u8 string) {
	w.Header().Set("Content-Type", playlistContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(m3u8))
	if h.metrics != nil {
		h.metrics.IncPlaylistsServed()
	}
}
