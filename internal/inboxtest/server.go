// Package inboxtest is an in-memory implementation of the inbox REST contract.
// It backs the repository and service tests and the dev-server command.
package inboxtest

import (
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/noah-isme/tm-inbox-console/internal/dto"
	"github.com/noah-isme/tm-inbox-console/internal/models"
	appErrors "github.com/noah-isme/tm-inbox-console/pkg/errors"
	"github.com/noah-isme/tm-inbox-console/pkg/response"
)

// Endpoint names used for call counting and failure injection.
const (
	EndpointList        = "list"
	EndpointApprove     = "approve"
	EndpointReject      = "reject"
	EndpointBulkApprove = "bulk-approve"
	EndpointBulkReject  = "bulk-reject"
	EndpointConsolidate = "consolidate"
	EndpointSeries      = "series"
	EndpointBooks       = "books"
	EndpointSourceTags  = "source-tags"
)

type injectedFailure struct {
	status  int
	message string
	times   int
}

type book struct {
	models.BookMeta
	seriesID int64
}

// Server holds review items in memory and serves them over gin.
type Server struct {
	mu           sync.Mutex
	items        map[int64]*models.ReviewItem
	nextID       int64
	series       []models.SeriesMeta
	books        []book
	consolidated map[int64]bool
	failures     map[string]*injectedFailure
	delays       map[string]time.Duration
	calls        map[string]int
	bodies       map[string][]byte

	secret     []byte
	logger     *zap.Logger
	now        func() time.Time
	middleware []gin.HandlerFunc
	engine     *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithTokenSecret requires an HS256 bearer token signed with secret.
func WithTokenSecret(secret string) Option {
	return func(s *Server) {
		if secret != "" {
			s.secret = []byte(secret)
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the review timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMiddleware installs handlers ahead of the inbox routes.
func WithMiddleware(handlers ...gin.HandlerFunc) Option {
	return func(s *Server) { s.middleware = append(s.middleware, handlers...) }
}

// New builds an empty server.
func New(opts ...Option) *Server {
	s := &Server{
		items:        make(map[int64]*models.ReviewItem),
		consolidated: make(map[int64]bool),
		failures:     make(map[string]*injectedFailure),
		delays:       make(map[string]time.Duration),
		calls:        make(map[string]int),
		bodies:       make(map[string][]byte),
		logger:       zap.NewNop(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

// Handler exposes the gin engine.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.middleware...)

	api := r.Group("/api")
	if s.secret != nil {
		api.Use(s.authenticate)
	}
	inbox := api.Group("/inbox/bookpairs")
	inbox.GET("", s.track(EndpointList, s.list))
	inbox.GET("/source-tags", s.track(EndpointSourceTags, s.sourceTags))
	inbox.POST("/:id/approve", s.track(EndpointApprove, s.reviewOne(models.ReviewStatusApproved)))
	inbox.POST("/:id/reject", s.track(EndpointReject, s.reviewOne(models.ReviewStatusRejected)))
	inbox.POST("/bulk-approve", s.track(EndpointBulkApprove, s.reviewBulk(models.ReviewStatusApproved)))
	inbox.POST("/bulk-reject", s.track(EndpointBulkReject, s.reviewBulk(models.ReviewStatusRejected)))
	inbox.POST("/consolidate", s.track(EndpointConsolidate, s.consolidate))
	api.GET("/series", s.track(EndpointSeries, s.listSeries))
	api.GET("/books", s.track(EndpointBooks, s.listBooks))
	return r
}

// Seed stores items, assigning ids to those without one.
func (s *Server) Seed(items ...models.ReviewItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range items {
		c := item.Clone()
		if c.ID == 0 {
			s.nextID++
			c.ID = s.nextID
		} else if c.ID > s.nextID {
			s.nextID = c.ID
		}
		if c.Status == "" {
			c.Status = models.ReviewStatusPending
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = s.now().Add(time.Duration(c.ID) * time.Second)
		}
		s.items[c.ID] = &c
	}
}

// AddSeries registers a series for the lookup endpoint.
func (s *Server) AddSeries(series ...models.SeriesMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series = append(s.series, series...)
}

// AddBook registers a book under seriesID.
func (s *Server) AddBook(seriesID int64, meta models.BookMeta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books = append(s.books, book{BookMeta: meta, seriesID: seriesID})
}

// Fail makes the next times calls to endpoint answer with status and message.
func (s *Server) Fail(endpoint string, status int, message string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = &injectedFailure{status: status, message: message, times: times}
}

// FailRaw makes the next call to endpoint answer with status and an arbitrary body.
func (s *Server) FailRaw(endpoint string, status int, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = &injectedFailure{status: status, times: 1}
	s.bodies[endpoint] = body
}

// Delay slows every call to endpoint.
func (s *Server) Delay(endpoint string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays[endpoint] = d
}

// Calls reports how often endpoint was hit.
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// Item returns a copy of the stored item.
func (s *Server) Item(id int64) (models.ReviewItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return models.ReviewItem{}, false
	}
	return item.Clone(), true
}

// SeedSample fills the server with n generated pairs across a few series and books.
func (s *Server) SeedSample(n int, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	s.AddSeries(models.SeriesMeta{ID: 1, Name: "The Silver Road"}, models.SeriesMeta{ID: 2, Name: "Harbor Lights"})
	s.AddBook(1, models.BookMeta{ID: 11, Title: "Ashes of Morning"})
	s.AddBook(1, models.BookMeta{ID: 12, Title: "The Long Winter"})
	s.AddBook(2, models.BookMeta{ID: 21, Title: "Tidewater"})

	pairs := [][2]string{
		{"The dragon slept beneath the hill.", "O dragão dormia sob a colina."},
		{"She opened the door slowly.", "Ela abriu a porta devagar."},
		{"Nobody answered.", "Ninguém respondeu."},
		{"The road was silver under the moon.", "A estrada era prateada sob a lua."},
		{"He kept the letter for years.", "Ele guardou a carta por anos."},
		{"Rain fell on the harbor.", "A chuva caía no porto."},
	}
	tags := []string{"epub-import", "epub-align", "web-scrape"}
	bookIDs := map[int64][]int64{1: {11, 12}, 2: {21}}

	items := make([]models.ReviewItem, 0, n)
	for i := 0; i < n; i++ {
		pair := pairs[rng.Intn(len(pairs))]
		seriesID := int64(rng.Intn(2) + 1)
		books := bookIDs[seriesID]
		quality := math.Round(rng.Float64()*100) / 100
		items = append(items, models.ReviewItem{
			Src:       pair[0],
			Tgt:       pair[1],
			LangSrc:   "en",
			LangTgt:   "pt",
			Quality:   &quality,
			SeriesID:  models.Ref(seriesID),
			BookID:    models.Ref(books[rng.Intn(len(books))]),
			Chapter:   models.Ref(fmt.Sprintf("ch%02d", rng.Intn(20)+1)),
			Location:  models.Ref(fmt.Sprintf("p%d", rng.Intn(300)+1)),
			SourceTag: models.Ref(tags[rng.Intn(len(tags))]),
		})
	}
	s.Seed(items...)
}

func (s *Server) authenticate(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "missing bearer token"))
		c.Abort()
		return
	}
	_, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token"))
		c.Abort()
		return
	}
	c.Next()
}

func (s *Server) track(endpoint string, handler gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.Lock()
		s.calls[endpoint]++
		delay := s.delays[endpoint]
		failure := s.failures[endpoint]
		var body []byte
		if failure != nil {
			failure.times--
			if failure.times <= 0 {
				delete(s.failures, endpoint)
			}
			body = s.bodies[endpoint]
			delete(s.bodies, endpoint)
		}
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-c.Request.Context().Done():
				return
			}
		}
		if failure != nil {
			if body != nil {
				c.Data(failure.status, "application/json", body)
				return
			}
			response.Error(c, appErrors.New("INJECTED", failure.status, failure.message))
			return
		}
		handler(c)
	}
}

func (s *Server) list(c *gin.Context) {
	raw := dto.FilterQuery{}
	for key, vals := range c.Request.URL.Query() {
		if len(vals) > 0 {
			raw[key] = vals[0]
		}
	}
	filter, err := dto.DecodeFilterStrict(raw)
	if err != nil {
		response.Error(c, err)
		return
	}

	s.mu.Lock()
	matched := make([]models.ReviewItem, 0, len(s.items))
	for _, item := range s.items {
		if matches(filter, item) {
			matched = append(matched, item.Clone())
		}
	}
	s.mu.Unlock()

	sortItems(matched, filter.Sort)

	total := len(matched)
	start := (filter.Page - 1) * filter.Size
	if start > total {
		start = total
	}
	end := start + filter.Size
	if end > total {
		end = total
	}
	totalPages := 0
	if total > 0 {
		totalPages = (total + filter.Size - 1) / filter.Size
	}

	response.OK(c, models.Page[models.ReviewItem]{
		Items:      matched[start:end],
		Page:       filter.Page,
		Size:       filter.Size,
		TotalItems: int64(total),
		TotalPages: totalPages,
	})
}

func (s *Server) reviewOne(target models.ReviewStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid bookpair id"))
			return
		}
		var req dto.ReviewRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload"))
				return
			}
		}

		s.mu.Lock()
		item, ok := s.items[id]
		if !ok {
			s.mu.Unlock()
			response.Error(c, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("Bookpair %d not found", id)))
			return
		}
		if !item.Status.CanTransitionTo(target) {
			status := item.Status
			s.mu.Unlock()
			response.Error(c, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("Bookpair %d is already %s", id, status)))
			return
		}
		reviewedAt := s.now()
		s.transition(item, target, req.Reviewer, reviewedAt)
		s.mu.Unlock()

		response.OK(c, models.ReviewResult{OK: true, ID: id, NewStatus: target, ReviewedAt: reviewedAt})
	}
}

func (s *Server) reviewBulk(target models.ReviewStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req dto.BulkReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "ids must be a non-empty list"))
			return
		}

		s.mu.Lock()
		reviewedAt := s.now()
		count := 0
		for _, id := range models.SortIDs(req.IDs) {
			item, ok := s.items[id]
			if !ok || !item.Status.CanTransitionTo(target) {
				continue
			}
			s.transition(item, target, req.Reviewer, reviewedAt)
			count++
		}
		s.mu.Unlock()

		response.OK(c, models.BulkResult{OK: true, Count: count})
	}
}

func (s *Server) transition(item *models.ReviewItem, target models.ReviewStatus, reviewer string, at time.Time) {
	if reviewer == "" {
		reviewer = "anonymous"
	}
	item.Status = target
	item.Reviewer = &reviewer
	item.ReviewedAt = &at
	s.logger.Debug("bookpair reviewed", zap.Int64("id", item.ID), zap.String("status", string(target)))
}

func (s *Server) consolidate(c *gin.Context) {
	s.mu.Lock()
	n := 0
	for id, item := range s.items {
		if item.Status != models.ReviewStatusApproved || s.consolidated[id] {
			continue
		}
		s.consolidated[id] = true
		n++
	}
	s.mu.Unlock()

	response.OK(c, models.ConsolidateResult{OK: true, TMUpserts: n, OccInserted: n, EmbUpserts: n})
}

func (s *Server) listSeries(c *gin.Context) {
	s.mu.Lock()
	out := append([]models.SeriesMeta{}, s.series...)
	s.mu.Unlock()
	response.OK(c, out)
}

func (s *Server) listBooks(c *gin.Context) {
	var seriesID int64
	if raw := c.Query("seriesId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid seriesId"))
			return
		}
		seriesID = id
	}

	s.mu.Lock()
	out := make([]models.BookMeta, 0, len(s.books))
	for _, b := range s.books {
		if seriesID == 0 || b.seriesID == seriesID {
			out = append(out, b.BookMeta)
		}
	}
	s.mu.Unlock()
	response.OK(c, out)
}

func (s *Server) sourceTags(c *gin.Context) {
	prefix := strings.ToLower(c.Query("suggest"))

	s.mu.Lock()
	seen := make(map[string]struct{})
	for _, item := range s.items {
		if item.SourceTag == nil {
			continue
		}
		if strings.HasPrefix(strings.ToLower(*item.SourceTag), prefix) {
			seen[*item.SourceTag] = struct{}{}
		}
	}
	s.mu.Unlock()

	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	sort.Strings(out)
	response.OK(c, out)
}

func matches(f models.FilterState, item *models.ReviewItem) bool {
	if item.Status != f.Status {
		return false
	}
	if f.SeriesID != nil && (item.SeriesID == nil || *item.SeriesID != *f.SeriesID) {
		return false
	}
	if f.BookID != nil && (item.BookID == nil || *item.BookID != *f.BookID) {
		return false
	}
	if f.SourceTag != "" && (item.SourceTag == nil || !containsFold(*item.SourceTag, f.SourceTag)) {
		return false
	}
	if f.Query != "" && !containsFold(item.Src, f.Query) && !containsFold(item.Tgt, f.Query) {
		return false
	}
	if f.QualityMin != nil && (item.Quality == nil || *item.Quality < *f.QualityMin) {
		return false
	}
	if f.QualityMax != nil && (item.Quality == nil || *item.Quality > *f.QualityMax) {
		return false
	}
	return true
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func sortItems(items []models.ReviewItem, spec models.SortSpec) {
	less := func(a, b models.ReviewItem) int {
		switch spec.Field {
		case "quality":
			return compareFloatPtr(a.Quality, b.Quality)
		case "reviewedAt":
			return compareTimePtr(a.ReviewedAt, b.ReviewedAt)
		case "id":
			return compareInt(a.ID, b.ID)
		default:
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}
	sort.SliceStable(items, func(i, j int) bool {
		c := less(items[i], items[j])
		if c == 0 {
			c = compareInt(items[i].ID, items[j].ID)
		}
		if spec.Direction == models.SortDesc {
			return c > 0
		}
		return c < 0
	})
}

func compareInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Absent values sort first.
func compareFloatPtr(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	default:
		return 0
	}
}

func compareTimePtr(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Compare(*b)
	}
}
