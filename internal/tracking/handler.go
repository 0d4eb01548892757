// Package tracking serves the open pixel and click redirect endpoints that
// the tracking preparer injects into outgoing content.
package tracking

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/investor-outreach/internal/mailing"
	"github.com/ignite/investor-outreach/internal/pkg/logger"
)

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Recorder applies engagement signals. outreach.Tracker implements it.
type Recorder interface {
	RecordOpen(ctx context.Context, trackingID string) (bool, error)
	RecordClick(ctx context.Context, trackingID, targetURL string) (bool, error)
}

type Handler struct {
	rec Recorder
}

func NewHandler(rec Recorder) *Handler {
	return &Handler{rec: rec}
}

// Mount registers the tracking routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get(mailing.OpenPath, h.HandleOpen)
	r.Get(mailing.ClickPath, h.HandleClick)
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	h.Mount(r)
	r.Get("/health", h.HandleHealth)
	return r
}

// HandleOpen always answers with the pixel; recording failures are logged
// only.
func (h *Handler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	tid := r.URL.Query().Get("tid")
	if tid != "" {
		changed, err := h.rec.RecordOpen(r.Context(), tid)
		if err != nil {
			logger.Error("record open failed", "tracking_id", tid, "error", err.Error())
		} else if changed {
			logger.Debug("open recorded", "tracking_id", tid, "ip", realIP(r), "user_agent", r.UserAgent())
		}
	}
	h.servePixel(w)
}

// HandleClick redirects to the original destination whether or not the
// click could be recorded. Only absolute http(s) destinations are followed.
func (h *Handler) HandleClick(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := q.Get("url")
	if !redirectable(target) {
		http.Error(w, "bad link", http.StatusBadRequest)
		return
	}

	if tid := q.Get("tid"); tid != "" {
		changed, err := h.rec.RecordClick(r.Context(), tid, target)
		if err != nil {
			logger.Error("record click failed", "tracking_id", tid, "error", err.Error())
		} else if changed {
			logger.Debug("click recorded", "tracking_id", tid, "url", target, "ip", realIP(r))
		}
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Write(pixelGIF)
}

func redirectable(target string) bool {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
