package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/tm-inbox-console/internal/dto"
	"github.com/noah-isme/tm-inbox-console/internal/models"
	"github.com/noah-isme/tm-inbox-console/internal/service"
)

type listerStub struct{}

func (listerStub) List(_ context.Context, f models.FilterState) (*models.Page[models.ReviewItem], error) {
	return &models.Page[models.ReviewItem]{
		Items: []models.ReviewItem{{ID: 4, Status: models.ReviewStatusPending}},
		Page:  f.Page, Size: f.Size, TotalItems: 1, TotalPages: 1,
	}, nil
}

func (listerStub) Approve(context.Context, int64, dto.ReviewRequest) (*models.ReviewResult, error) {
	return nil, nil
}

func (listerStub) Reject(context.Context, int64, dto.ReviewRequest) (*models.ReviewResult, error) {
	return nil, nil
}

func newRouter(h *MetricsHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.Register(r)
	return r
}

func get(r http.Handler, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestQueueEndpointReportsSnapshot(t *testing.T) {
	q := service.NewReviewQueue(listerStub{})
	require.NoError(t, q.Refresh(context.Background()))
	q.Toggle(4)

	w := get(newRouter(NewMetricsHandler(service.NewMetricsService(), q)), "/queue")
	require.Equal(t, http.StatusOK, w.Code)

	var body QueueStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, service.QueueLoaded, body.Status)
	assert.Equal(t, []int64{4}, body.Selected)
	assert.Equal(t, 1, body.Visible)
	assert.Contains(t, body.Link, "status=pending")
}

func TestQueueEndpointWithoutQueue(t *testing.T) {
	w := get(newRouter(NewMetricsHandler(service.NewMetricsService(), nil)), "/queue")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthAndPrometheus(t *testing.T) {
	metrics := service.NewMetricsService()
	metrics.RecordStaleResponse()
	r := newRouter(NewMetricsHandler(metrics, nil))

	w := get(r, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"staleResponses":1`)

	w = get(r, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "stale"))
}
