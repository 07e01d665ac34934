// Package dashboard serves the live monitoring page and its JSON API. The
// page itself is a single embedded HTML file that polls the API; everything
// dynamic goes over JSON so the binary stays self-contained.
package dashboard

import (
	"context"
	"embed"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	qrcode "github.com/skip2/go-qrcode"

	"plant-sentinel/pkg/database"
)

//go:embed public_html
var content embed.FS

// Store is the slice of the database the dashboard reads from.
type Store interface {
	LatestReadings(ctx context.Context) ([]database.PlantStatus, error)
	ReadingHistory(ctx context.Context, plantID int64, since int64, limit int) ([]database.RawReading, error)
	RecentAlerts(ctx context.Context, since int64, limit int) ([]database.AlertRecord, error)
}

// Handler owns the dashboard's routes.
type Handler struct {
	DB   Store
	Logf func(string, ...any)
}

// Router builds the chi mux with every dashboard route mounted.
func (h *Handler) Router() http.Handler {
	if h.Logf == nil {
		h.Logf = log.Printf
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/", h.index)
	r.Get("/api/plants", h.plants)
	r.Get("/api/plants/{id}/history", h.history)
	r.Get("/api/alerts/recent", h.recentAlerts)
	r.Get("/qr.png", h.qrPNG)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	page, err := content.ReadFile("public_html/index.html")
	if err != nil {
		http.Error(w, "dashboard page missing", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(page)
}

// plants returns each plant's latest reading with its assigned botanist.
func (h *Handler) plants(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.DB.LatestReadings(r.Context())
	if err != nil {
		h.fail(w, "latest readings", err)
		return
	}
	if statuses == nil {
		statuses = []database.PlantStatus{}
	}
	h.writeJSON(w, statuses)
}

// history returns one plant's readings since ?hours= ago (default 24).
func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	plantID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "bad plant id", http.StatusBadRequest)
		return
	}

	hours := 24
	if v := r.URL.Query().Get("hours"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 24*7 {
			hours = n
		}
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour).Unix()

	readings, err := h.DB.ReadingHistory(r.Context(), plantID, since, 0)
	if err != nil {
		h.fail(w, "reading history", err)
		return
	}
	if readings == nil {
		readings = []database.RawReading{}
	}
	h.writeJSON(w, readings)
}

// recentAlerts returns the alerts from the trailing 24 hours, newest first.
func (h *Handler) recentAlerts(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-24 * time.Hour).Unix()
	alerts, err := h.DB.RecentAlerts(r.Context(), since, 100)
	if err != nil {
		h.fail(w, "recent alerts", err)
		return
	}
	if alerts == nil {
		alerts = []database.AlertRecord{}
	}
	h.writeJSON(w, alerts)
}

// qrPNG renders a QR code pointing at the dashboard itself, for sticking on
// the greenhouse door.
func (h *Handler) qrPNG(w http.ResponseWriter, r *http.Request) {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	target := scheme + "://" + r.Host + "/"

	png, err := qrcode.Encode(target, qrcode.Medium, 256)
	if err != nil {
		h.fail(w, "render qr", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (h *Handler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logf("dashboard: encode response: %v", err)
	}
}

func (h *Handler) fail(w http.ResponseWriter, what string, err error) {
	h.Logf("dashboard: %s: %v", what, err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
