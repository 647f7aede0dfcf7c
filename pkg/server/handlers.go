package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/nicktill/battmon/pkg/config"
	"github.com/nicktill/battmon/pkg/httpx"
	"github.com/nicktill/battmon/pkg/server/monitor"
	"github.com/nicktill/battmon/pkg/storage"
)

// Version is reported by /v1/health.
const Version = "1.0.0"

var startTime = time.Now()

// StorageUsage represents current storage usage stats.
type StorageUsage struct {
	UsedBytes    int64         `json:"used_bytes"`
	MaxBytes     int64         `json:"max_bytes"`
	Disk         monitor.Usage `json:"disk"`
	TotalRecords uint64        `json:"total_records"`
	TotalDevices uint64        `json:"total_devices"`
	OldestRecord time.Time     `json:"oldest_record,omitempty"`
	NewestRecord time.Time     `json:"newest_record,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string                   `json:"status"`
	Version   string                   `json:"version"`
	Uptime    string                   `json:"uptime"`
	Retention *monitor.RetentionStatus `json:"retention,omitempty"`
}

// handleHealth returns service health status. A nil monitor means retention
// is disabled and never degrades health.
func handleHealth(retentionMonitor *monitor.RetentionMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := HealthResponse{
			Status:  "healthy",
			Version: Version,
			Uptime:  time.Since(startTime).Round(time.Second).String(),
		}
		statusCode := http.StatusOK

		if retentionMonitor != nil {
			status := retentionMonitor.Status(config.RetentionInterval)
			response.Retention = &status
			if !status.Healthy {
				response.Status = "degraded"
				statusCode = http.StatusServiceUnavailable
			}
		}

		httpx.RespondJSON(w, statusCode, response)
	}
}

// handleStorageUsage returns disk usage plus record totals.
func handleStorageUsage(storageMonitor *monitor.StorageMonitor, store storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		usage, err := storageMonitor.Usage()
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), config.QueryTimeout)
		defer cancel()

		stats, err := store.Stats(ctx)
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, err)
			return
		}

		httpx.RespondJSON(w, http.StatusOK, StorageUsage{
			UsedBytes:    usage.Total,
			Disk:         usage,
			MaxBytes:     storageMonitor.GetLimit(),
			TotalRecords: stats.TotalRecords,
			TotalDevices: stats.TotalDevices,
			OldestRecord: stats.OldestRecord,
			NewestRecord: stats.NewestRecord,
		})
	}
}

// SetupRoutes configures all HTTP routes for the server.
func SetupRoutes(router *mux.Router, h Handlers, mons Monitors, store storage.Storage) {
	router.Use(h.Metrics.Middleware)

	api := router.PathPrefix("/v1").Subrouter()

	// Record store
	api.HandleFunc("/records", h.Ingest.HandleRecords).Methods(http.MethodPost)
	api.HandleFunc("/records", h.Export.HandleRecords).Methods(http.MethodGet)
	api.HandleFunc("/records", h.Ingest.HandleDeleteRecords).Methods(http.MethodDelete)
	api.HandleFunc("/devices", h.Ingest.HandleDevices).Methods(http.MethodGet)

	// Ingest activity
	api.HandleFunc("/ingest/stats", h.Ingest.HandleStats).Methods(http.MethodGet)
	api.HandleFunc("/topology", h.Ingest.HandleTopology).Methods(http.MethodGet)
	api.HandleFunc("/ws", h.Hub.HandleWebSocket).Methods(http.MethodGet)

	// Backup and restore
	api.HandleFunc("/export", h.Export.HandleExport).Methods(http.MethodGet)
	api.HandleFunc("/import", h.Export.HandleImport).Methods(http.MethodPost)

	// Dashboard
	dash := api.PathPrefix("/dashboard").Subrouter()
	dash.HandleFunc("/devices", h.Dashboard.HandleDevices).Methods(http.MethodGet)
	dash.HandleFunc("/series", h.Dashboard.HandleSeries).Methods(http.MethodGet)
	dash.HandleFunc("/table", h.Dashboard.HandleTable).Methods(http.MethodGet)
	dash.HandleFunc("/chart.png", h.Dashboard.HandleChart).Methods(http.MethodGet)
	dash.HandleFunc("/export", h.Dashboard.HandleExport).Methods(http.MethodGet)
	dash.HandleFunc("/preferences", h.Dashboard.HandlePreferences).Methods(http.MethodGet, http.MethodPut)
	dash.HandleFunc("/deletions", h.Dashboard.HandleCreateDeletion).Methods(http.MethodPost)
	dash.HandleFunc("/deletions/{id}", h.Dashboard.HandleGetDeletion).Methods(http.MethodGet)
	dash.HandleFunc("/deletions/{id}", h.Dashboard.HandleCancelDeletion).Methods(http.MethodDelete)
	dash.HandleFunc("/deletions/{id}/confirm", h.Dashboard.HandleConfirmDeletion).Methods(http.MethodPost)

	// Operations
	api.HandleFunc("/storage", handleStorageUsage(mons.Storage, store)).Methods(http.MethodGet)
	api.HandleFunc("/health", handleHealth(mons.Retention)).Methods(http.MethodGet)
	router.Handle("/metrics", h.Metrics.Handler()).Methods(http.MethodGet)
}

// AllowedOrigins returns the configured CORS origins, or localhost on the
// server port and the usual frontend dev port when none are configured.
func AllowedOrigins(cfg config.Config) []string {
	if len(cfg.AllowedOrigins) > 0 {
		return cfg.AllowedOrigins
	}
	return []string{
		"http://localhost:" + cfg.Port,
		"http://127.0.0.1:" + cfg.Port,
		"http://localhost:3000",
		"http://127.0.0.1:3000",
	}
}

// NewRouter builds the routed handler wrapped in CORS. CORS sits outside the
// router so preflight requests never reach method matching.
func NewRouter(cfg config.Config, h Handlers, mons Monitors, store storage.Storage) http.Handler {
	router := mux.NewRouter()
	SetupRoutes(router, h, mons, store)

	c := cors.New(cors.Options{
		AllowedOrigins: AllowedOrigins(cfg),
		AllowedMethods: []string{
			http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Battmon-User"},
		AllowCredentials: true,
	})
	return c.Handler(router)
}
