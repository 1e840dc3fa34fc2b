package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/noah-isme/tm-inbox-console/internal/dto"
	"github.com/noah-isme/tm-inbox-console/internal/models"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
	"github.com/noah-isme/tm-inbox-console/pkg/middleware/requestid"
)

const (
	inboxBasePath    = "/api/inbox/bookpairs"
	maxResponseBytes = 8 << 20
)

// RequestObserver receives timing for every remote call. status is 0 when no
// response arrived.
type RequestObserver interface {
	ObserveRemoteRequest(endpoint, method string, status int, duration time.Duration)
}

// TokenSource supplies bearer tokens for outbound requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// InboxRepositoryConfig tunes the remote client.
type InboxRepositoryConfig struct {
	BaseURL          string
	Timeout          time.Duration
	Retries          int
	BreakerFailures  int
	BreakerTimeout   time.Duration
	BreakerHalfOpens int
}

// InboxRepository talks to the remote inbox service. It holds no queue state.
type InboxRepository struct {
	baseURL       string
	client        *http.Client
	breaker       *gobreaker.CircuitBreaker
	retries       int
	retryInterval time.Duration
	tokens        TokenSource
	observer      RequestObserver
	logger        *zap.Logger
}

// InboxOption customises an InboxRepository.
type InboxOption func(*InboxRepository)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) InboxOption {
	return func(r *InboxRepository) {
		if client != nil {
			r.client = client
		}
	}
}

// WithTokenSource attaches bearer tokens to every request.
func WithTokenSource(tokens TokenSource) InboxOption {
	return func(r *InboxRepository) { r.tokens = tokens }
}

// WithRequestObserver records per-endpoint timings.
func WithRequestObserver(observer RequestObserver) InboxOption {
	return func(r *InboxRepository) { r.observer = observer }
}

// WithLogger sets the repository logger.
func WithLogger(logger *zap.Logger) InboxOption {
	return func(r *InboxRepository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRetryInterval sets the initial backoff between GET retries.
func WithRetryInterval(d time.Duration) InboxOption {
	return func(r *InboxRepository) {
		if d > 0 {
			r.retryInterval = d
		}
	}
}

// NewInboxRepository constructs the remote client.
func NewInboxRepository(cfg InboxRepositoryConfig, opts ...InboxOption) *InboxRepository {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.BreakerHalfOpens <= 0 {
		cfg.BreakerHalfOpens = 1
	}

	r := &InboxRepository{
		baseURL:       trimSlash(cfg.BaseURL),
		client:        &http.Client{Timeout: cfg.Timeout},
		retries:       cfg.Retries,
		retryInterval: 200 * time.Millisecond,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	failures := uint32(cfg.BreakerFailures)
	r.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "inbox-api",
		MaxRequests: uint32(cfg.BreakerHalfOpens),
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: countsAsHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("inbox circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return r
}

// List fetches one page of review items. The page is returned whole or not at all.
func (r *InboxRepository) List(ctx context.Context, filter models.FilterState) (*models.Page[models.ReviewItem], error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	query := dto.EncodeFilter(filter).Values()

	var page models.Page[models.ReviewItem]
	if err := r.do(ctx, http.MethodGet, "list", inboxBasePath, query, nil, &page); err != nil {
		return nil, err
	}
	if page.Items == nil {
		page.Items = []models.ReviewItem{}
	}
	if page.Page < 1 {
		page.Page = 1
	}
	if page.Size > 0 && len(page.Items) > page.Size {
		return nil, appErrors.NewRequestError(http.StatusOK,
			fmt.Sprintf("malformed page: %d items for size %d", len(page.Items), page.Size), nil)
	}
	return &page, nil
}

// Approve transitions a single item to approved.
func (r *InboxRepository) Approve(ctx context.Context, id int64, req dto.ReviewRequest) (*models.ReviewResult, error) {
	return r.review(ctx, id, "approve", req)
}

// Reject transitions a single item to rejected.
func (r *InboxRepository) Reject(ctx context.Context, id int64, req dto.ReviewRequest) (*models.ReviewResult, error) {
	return r.review(ctx, id, "reject", req)
}

func (r *InboxRepository) review(ctx context.Context, id int64, action string, req dto.ReviewRequest) (*models.ReviewResult, error) {
	if id <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "item id must be positive")
	}
	path := fmt.Sprintf("%s/%d/%s", inboxBasePath, id, action)

	var result models.ReviewResult
	if err := r.do(ctx, http.MethodPost, action, path, nil, req, &result); err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, appErrors.NewRequestError(http.StatusOK, fmt.Sprintf("%s of item #%d was not acknowledged", action, id), nil)
	}
	return &result, nil
}

// BulkApprove approves every id in one call.
func (r *InboxRepository) BulkApprove(ctx context.Context, req dto.BulkReviewRequest) (*models.BulkResult, error) {
	return r.bulk(ctx, "bulk-approve", req)
}

// BulkReject rejects every id in one call.
func (r *InboxRepository) BulkReject(ctx context.Context, req dto.BulkReviewRequest) (*models.BulkResult, error) {
	return r.bulk(ctx, "bulk-reject", req)
}

func (r *InboxRepository) bulk(ctx context.Context, action string, req dto.BulkReviewRequest) (*models.BulkResult, error) {
	req.IDs = models.SortIDs(req.IDs)
	if len(req.IDs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "bulk review requires at least one id")
	}

	var result models.BulkResult
	if err := r.do(ctx, http.MethodPost, action, inboxBasePath+"/"+action, nil, req, &result); err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, appErrors.NewRequestError(http.StatusOK, action+" was not acknowledged", nil)
	}
	result.Requested = len(req.IDs)
	return &result, nil
}

// Consolidate promotes every approved item server-side. Safe to repeat.
func (r *InboxRepository) Consolidate(ctx context.Context) (*models.ConsolidateResult, error) {
	var result models.ConsolidateResult
	if err := r.do(ctx, http.MethodPost, "consolidate", inboxBasePath+"/consolidate", nil, nil, &result); err != nil {
		return nil, err
	}
	if !result.OK {
		return nil, appErrors.NewRequestError(http.StatusOK, "consolidation was not acknowledged", nil)
	}
	return &result, nil
}

// ListSeries returns the series lookup list.
func (r *InboxRepository) ListSeries(ctx context.Context) ([]models.SeriesMeta, error) {
	var series []models.SeriesMeta
	if err := r.do(ctx, http.MethodGet, "series", "/api/series", nil, nil, &series); err != nil {
		return nil, err
	}
	if series == nil {
		series = []models.SeriesMeta{}
	}
	return series, nil
}

// ListBooks returns books, optionally limited to one series.
func (r *InboxRepository) ListBooks(ctx context.Context, seriesID *int64) ([]models.BookMeta, error) {
	query := url.Values{}
	if seriesID != nil {
		query.Set("seriesId", strconv.FormatInt(*seriesID, 10))
	}
	var books []models.BookMeta
	if err := r.do(ctx, http.MethodGet, "books", "/api/books", query, nil, &books); err != nil {
		return nil, err
	}
	if books == nil {
		books = []models.BookMeta{}
	}
	return books, nil
}

// SuggestSourceTags returns provenance tags matching prefix.
func (r *InboxRepository) SuggestSourceTags(ctx context.Context, prefix string) ([]string, error) {
	query := url.Values{}
	if prefix != "" {
		query.Set("suggest", prefix)
	}
	var tags []string
	if err := r.do(ctx, http.MethodGet, "source-tags", inboxBasePath+"/source-tags", query, nil, &tags); err != nil {
		return nil, err
	}
	if tags == nil {
		tags = []string{}
	}
	return tags, nil
}

// do runs one logical call through the circuit breaker. GETs are retried with
// exponential backoff; mutations are attempted once.
func (r *InboxRepository) do(ctx context.Context, method, endpoint, path string, query url.Values, body, out interface{}) error {
	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "encode request body")
		}
		payload = raw
	}

	target := r.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	attempt := func() error {
		_, err := r.breaker.Execute(func() (interface{}, error) {
			return nil, r.send(ctx, method, endpoint, target, payload, out)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(appErrors.Wrap(err, appErrors.ErrServiceUnavailable.Code,
				appErrors.ErrServiceUnavailable.Status, appErrors.ErrServiceUnavailable.Message))
		}
		if err != nil && !retryable(ctx, err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if method != http.MethodGet || r.retries == 0 {
		return unwrapPermanent(attempt())
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = r.retryInterval
	policy.MaxElapsedTime = 0
	err := backoff.RetryNotify(attempt,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(r.retries)), ctx),
		func(err error, wait time.Duration) {
			r.logger.Debug("retrying inbox request",
				zap.String("endpoint", endpoint),
				zap.Duration("wait", wait),
				zap.Error(err))
		})
	return unwrapPermanent(err)
}

func (r *InboxRepository) send(ctx context.Context, method, endpoint, target string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	reqID := uuid.NewString()
	req.Header.Set(requestid.Header, reqID)
	if r.tokens != nil {
		token, err := r.tokens.Token(ctx)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "issue access token")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.observe(endpoint, method, 0, time.Since(start))
		r.logger.Warn("inbox request failed",
			zap.String("endpoint", endpoint),
			zap.String("request_id", reqID),
			zap.Error(err))
		return appErrors.NewRequestError(0, "inbox service unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	r.observe(endpoint, method, resp.StatusCode, time.Since(start))
	if err != nil {
		return appErrors.NewRequestError(resp.StatusCode, "read inbox response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := describeFailure(resp.StatusCode, raw)
		r.logger.Info("inbox request rejected",
			zap.String("endpoint", endpoint),
			zap.String("request_id", reqID),
			zap.Int("status", resp.StatusCode),
			zap.String("message", message))
		return appErrors.NewRequestError(resp.StatusCode, message, nil)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return appErrors.NewRequestError(resp.StatusCode, "malformed response from inbox service", err)
	}
	return nil
}

func (r *InboxRepository) observe(endpoint, method string, status int, d time.Duration) {
	if r.observer != nil {
		r.observer.ObserveRemoteRequest(endpoint, method, status, d)
	}
}

// describeFailure prefers the structured error body, then the HTTP status text.
func describeFailure(status int, raw []byte) string {
	var body dto.APIError
	if err := json.Unmarshal(raw, &body); err == nil {
		if msg := body.Describe(); msg != "" {
			return msg
		}
	}
	if text := http.StatusText(status); text != "" {
		return fmt.Sprintf("request failed (%d %s)", status, text)
	}
	return appErrors.ErrRequest.Message
}

// countsAsHealthy keeps client errors and caller cancellation out of the
// breaker's failure count.
func countsAsHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) && appErr.Code == appErrors.ErrRequest.Code {
		return appErr.Status >= 400 && appErr.Status < 500
	}
	return false
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var appErr *appErrors.Error
	if !errors.As(err, &appErr) || appErr.Code != appErrors.ErrRequest.Code {
		return false
	}
	return appErr.Status == 0 || appErr.Status >= 500 || appErr.Status == http.StatusTooManyRequests
}

// unwrapPermanent strips backoff wrappers and turns bare context errors into
// request errors so callers only ever see the typed taxonomy.
func unwrapPermanent(err error) error {
	if err == nil {
		return nil
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	var appErr *appErrors.Error
	if !errors.As(err, &appErr) {
		return appErrors.NewRequestError(0, "request cancelled", err)
	}
	return err
}

func trimSlash(s string) string {
	for len(s) > 0 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}
