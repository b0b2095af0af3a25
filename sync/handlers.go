package sync

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/tomasen/realip"
)

// StatsResponse holds disk usage and daemon statistics.
type StatsResponse struct {
	DiskTotal    uint64       `json:"diskTotal"`
	DiskFree     uint64       `json:"diskFree"`
	IndexedSize  int64        `json:"indexedSize"`
	Daemon       DaemonStatus `json:"daemon"`
	RecentErrors []LogEntry   `json:"recentErrors"`
}

// Handlers holds the read-only HTTP API over the index.
type Handlers struct {
	store  *Store
	diff   *DiffReporter
	daemon *Daemon
	events *EventBus
	root   string
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(store *Store, daemon *Daemon, events *EventBus, localRoot string) *Handlers {
	return &Handlers{
		store:  store,
		diff:   NewDiffReporter(store),
		daemon: daemon,
		events: events,
		root:   localRoot,
	}
}

// Router returns a gorilla/mux router serving every endpoint.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(h.accessLog)
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", h.HandleStatus).Methods(http.MethodGet).Name("status")
	api.HandleFunc("/records", h.HandleListRecords).Methods(http.MethodGet).Name("records")
	api.HandleFunc("/record", h.HandleGetRecord).Methods(http.MethodGet).Name("record")
	api.HandleFunc("/stats", h.HandleStats).Methods(http.MethodGet).Name("stats")
	api.HandleFunc("/events", h.HandleSSE).Methods(http.MethodGet).Name("events")
	r.Handle("/metrics", MetricsHandler()).Methods(http.MethodGet).Name("metrics")
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (h *Handlers) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if cur := mux.CurrentRoute(r); cur != nil && cur.GetName() != "" {
			route = cur.GetName()
		}
		recordHTTPRequest(r.Method, route, rec.status)
		sub("http").Debug("request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "ip", realip.FromRequest(r), "elapsed", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

// HandleStatus handles GET /api/status
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	s, err := h.diff.Summary(r.Context())
	if err != nil {
		sub("handlers").Error("status failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, s)
}

// HandleListRecords handles GET /api/records?parent=<path>
func (h *Handlers) HandleListRecords(w http.ResponseWriter, r *http.Request) {
	parent := r.URL.Query().Get("parent")
	if parent != "" {
		rec, err := h.store.Get(parent)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if rec == nil || rec.Kind != KindFolder {
			http.Error(w, "folder not found", http.StatusNotFound)
			return
		}
	}

	recs, err := h.store.ListChildren(parent)
	if err != nil {
		sub("handlers").Error("list records failed", "parent", parent, "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []IndexRecord{}
	}
	writeJSON(w, recs)
}

// RecordResponse is a record plus its reconciliation bucket.
type RecordResponse struct {
	IndexRecord
	State FileState `json:"state,omitempty"`
}

// HandleGetRecord handles GET /api/record?path=<path>
func (h *Handlers) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		http.Error(w, "path is required", http.StatusBadRequest)
		return
	}
	rec, err := h.store.Get(path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "record not found", http.StatusNotFound)
		return
	}
	writeJSON(w, RecordResponse{IndexRecord: *rec, State: ClassifyRecord(rec)})
}

// HandleStats handles GET /api/stats
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	l := sub("handlers")

	size, err := h.store.TotalSize()
	if err != nil {
		l.Error("stats failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := StatsResponse{IndexedSize: size, RecentErrors: RecentErrors()}
	if usage, err := disk.UsageWithContext(r.Context(), h.root); err == nil {
		resp.DiskTotal = usage.Total
		resp.DiskFree = usage.Free
	} else {
		l.Debug("disk usage unavailable", "root", h.root, "err", err)
	}
	if h.daemon != nil {
		resp.Daemon = h.daemon.Status()
	}
	writeJSON(w, resp)
}

// HandleSSE handles GET /api/events (Server-Sent Events stream).
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	if h.events == nil {
		http.Error(w, "events disabled", http.StatusServiceUnavailable)
		return
	}

	ch := h.events.Subscribe()
	defer h.events.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ch:
			data, _ := json.Marshal(event)
			fmt.Fprintf(w, "data: %s\n\n", data) //nolint:errcheck
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n") //nolint:errcheck
			flusher.Flush()
		}
	}
}
