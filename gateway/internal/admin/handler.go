package admin

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler renders Admin's operations over HTTP: /health, /ready,
// /routes, /clusters, /clusters/{name}/instances, /reload, plus
// /metrics when a registry is supplied. The metrics text-format
// exporter is a thin collaborator around the core's instrumentation
// points, not part of the core itself, so it only mounts when the
// caller hands Handler a registry to serve.
type Handler struct {
	admin    *Admin
	registry *prometheus.Registry
}

func NewHandler(a *Admin) *Handler {
	return &Handler{admin: a}
}

// WithMetrics mounts /metrics, serving reg in the standard Prometheus
// text exposition format.
func (h *Handler) WithMetrics(reg *prometheus.Registry) *Handler {
	h.registry = reg
	return h
}

func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /ready", h.ready)
	mux.HandleFunc("GET /routes", h.routes)
	mux.HandleFunc("GET /clusters", h.clusters)
	mux.HandleFunc("GET /clusters/{name}/instances", h.instances)
	mux.HandleFunc("POST /reload", h.reload)
	if h.registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if !h.admin.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "domains": h.admin.DomainCount()})
}

func (h *Handler) routes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"routes": h.admin.ListRoutes()})
}

func (h *Handler) clusters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"clusters": h.admin.ListClusters()})
}

func (h *Handler) instances(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	instances, ok := h.admin.InstanceSnapshot(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown cluster"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": instances})
}

func (h *Handler) reload(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.Reload(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}
