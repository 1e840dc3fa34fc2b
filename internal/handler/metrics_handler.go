package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/tm-inbox-console/internal/service"
	"github.com/noah-isme/tm-inbox-console/pkg/response"
)

type queueSnapshotter interface {
	Snapshot() service.QueueSnapshot
}

// QueueStatus summarises the live review queue for the status endpoint.
type QueueStatus struct {
	Status     service.QueueStatus `json:"status"`
	Link       string              `json:"link"`
	Visible    int                 `json:"visible"`
	TotalItems int64               `json:"totalItems"`
	Selected   []int64             `json:"selected"`
	InFlight   []int64             `json:"inFlight"`
	Error      string              `json:"error,omitempty"`
	Version    uint64              `json:"version"`
}

// MetricsHandler exposes observability endpoints.
type MetricsHandler struct {
	metrics *service.MetricsService
	queue   queueSnapshotter
}

// NewMetricsHandler constructs a metrics handler. queue may be nil when no
// review queue is running.
func NewMetricsHandler(metrics *service.MetricsService, queue queueSnapshotter) *MetricsHandler {
	return &MetricsHandler{metrics: metrics, queue: queue}
}

// Register mounts the endpoints on r.
func (h *MetricsHandler) Register(r gin.IRouter) {
	r.GET("/metrics", h.Prometheus)
	r.GET("/health", h.Health)
	r.GET("/queue", h.Queue)
}

// Prometheus serves the Prometheus metrics endpoint.
func (h *MetricsHandler) Prometheus(c *gin.Context) {
	if h.metrics == nil {
		c.Status(http.StatusServiceUnavailable)
		return
	}
	h.metrics.Handler().ServeHTTP(c.Writer, c.Request)
}

// Health reports liveness with the aggregated counters.
func (h *MetricsHandler) Health(c *gin.Context) {
	response.OK(c, gin.H{"status": "ok", "metrics": h.metrics.Snapshot()})
}

// Queue reports the state of the running review queue.
func (h *MetricsHandler) Queue(c *gin.Context) {
	if h.queue == nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "no queue"})
		return
	}
	snap := h.queue.Snapshot()
	response.OK(c, QueueStatus{
		Status:     snap.Status,
		Link:       snap.Link().String(),
		Visible:    len(snap.Page.Items),
		TotalItems: snap.Page.TotalItems,
		Selected:   snap.Selected,
		InFlight:   snap.InFlight,
		Error:      snap.Err,
		Version:    snap.Version,
	})
}
