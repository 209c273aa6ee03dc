package server

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	moderate "github.com/anatolykoptev/go-moderate"
)

// Options configures the HTTP layer.
type Options struct {
	BatchConcurrency int                 // default: 1
	MaxBatchItems    int                 // default: 500
	Gatherer         prometheus.Gatherer // nil = prometheus.DefaultGatherer
}

// Handler serves the moderation API.
type Handler struct {
	mod  *moderate.Moderator
	opts Options
}

// NewHandler creates a handler over mod.
func NewHandler(mod *moderate.Moderator, opts Options) *Handler {
	if opts.BatchConcurrency <= 0 {
		opts.BatchConcurrency = 1
	}
	if opts.MaxBatchItems <= 0 {
		opts.MaxBatchItems = 500
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Handler{mod: mod, opts: opts}
}

// NewRouter returns a gin engine with recovery, request logging and all routes.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/moderate", h.Moderate)
		api.POST("/moderate/batch", h.ModerateBatch)
		api.POST("/moderate/recheck", h.Recheck)

		api.GET("/status", h.Status)
		api.DELETE("/cache", h.ClearCache)
		api.PUT("/thresholds", h.UpdateThresholds)
	}

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.opts.Gatherer, promhttp.HandlerOpts{})))
	r.GET("/health", h.HealthCheck)
}

// ItemRequest is one item to moderate. The image is either fetched from
// ImageRef or decoded from base64 ImageData.
type ItemRequest struct {
	ItemID      string   `json:"itemId"`
	ImageRef    string   `json:"imageRef"`
	ImageData   string   `json:"imageData"`
	MIMEType    string   `json:"mimeType"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// BatchRequest is the body of POST /api/v1/moderate/batch.
type BatchRequest struct {
	Items       []ItemRequest `json:"items" binding:"required"`
	Limit       int           `json:"limit"`
	AutoApprove bool          `json:"autoApprove"`
}

// BatchResponse lists results in request order. AutoApproved carries the ids
// the caller should persist as approved when AutoApprove was requested.
type BatchResponse struct {
	Processed    int                         `json:"processed"`
	Results      []moderate.ModerationResult `json:"results"`
	AutoApproved []string                    `json:"autoApproved,omitempty"`
}

func (req ItemRequest) input() (moderate.AnalysisInput, error) {
	in := moderate.AnalysisInput{
		ItemID:      req.ItemID,
		Image:       moderate.ImageRef{URL: req.ImageRef, MIMEType: req.MIMEType},
		Title:       req.Title,
		Description: req.Description,
		Tags:        req.Tags,
	}
	if in.ItemID == "" {
		in.ItemID = uuid.NewString()
	}
	if req.ImageData != "" {
		data, err := base64.StdEncoding.DecodeString(req.ImageData)
		if err != nil {
			return in, fmt.Errorf("imageData: %w", err)
		}
		in.Image.Data = data
	}
	if err := moderate.ValidateImageRef(in.Image); err != nil {
		return in, err
	}
	return in, nil
}

// Moderate handles single-item moderation.
func (h *Handler) Moderate(c *gin.Context) {
	h.moderateOne(c, h.mod.Moderate)
}

// Recheck handles single-item moderation that bypasses the result cache.
func (h *Handler) Recheck(c *gin.Context) {
	h.moderateOne(c, h.mod.Recheck)
}

func (h *Handler) moderateOne(c *gin.Context, run func(ctx context.Context, in moderate.AnalysisInput) (moderate.ModerationResult, error)) {
	var req ItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	in, err := req.input()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := run(c.Request.Context(), in)
	if err != nil {
		h.inputError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ModerateBatch handles batch moderation.
func (h *Handler) ModerateBatch(c *gin.Context) {
	var req BatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Items) > h.opts.MaxBatchItems {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("batch of %d items exceeds the limit of %d", len(req.Items), h.opts.MaxBatchItems),
		})
		return
	}

	if req.Limit > 0 && req.Limit < len(req.Items) {
		req.Items = req.Items[:req.Limit]
	}

	// Invalid items are not rejected wholesale; they get their own degraded
	// result in place, so indexes still line up with the request.
	results := make([]moderate.ModerationResult, len(req.Items))
	var (
		valid []moderate.AnalysisInput
		slots []int
	)
	for i, it := range req.Items {
		in, err := it.input()
		if err != nil {
			slog.Warn("moderate: invalid batch item", "item", in.ItemID, "error", err.Error())
			results[i] = moderate.DegradedResult(in.ItemID, err, time.Now())
			continue
		}
		valid = append(valid, in)
		slots = append(slots, i)
	}

	done := h.mod.ProcessBatch(c.Request.Context(), valid, moderate.BatchOptions{
		Concurrency: h.opts.BatchConcurrency,
		OnProgress: func(p moderate.Progress) {
			slog.Debug("moderate: batch progress", "completed", p.Completed, "total", p.Total,
				"item", p.CurrentItemID, "recommendation", p.Result.Recommendation)
		},
	})
	for j, res := range done {
		results[slots[j]] = res
	}

	resp := BatchResponse{Processed: len(results), Results: results}
	if req.AutoApprove {
		for _, r := range results {
			if r.Recommendation == moderate.RecommendAutoApprove {
				resp.AutoApproved = append(resp.AutoApproved, r.ItemID)
			}
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Status returns cache size, thresholds and performance counters.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.mod.Status(c.Request.Context()))
}

// ClearCache drops every cached verdict.
func (h *Handler) ClearCache(c *gin.Context) {
	c.JSON(http.StatusOK, h.mod.ClearCache(c.Request.Context()))
}

// UpdateThresholds merges a partial threshold set.
func (h *Handler) UpdateThresholds(c *gin.Context) {
	var u moderate.ThresholdsUpdate
	if err := c.ShouldBindJSON(&u); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	th, err := h.mod.UpdateThresholds(u)
	if err != nil {
		h.inputError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"thresholds": th})
}

// HealthCheck is the liveness probe.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) inputError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, moderate.ErrMissingImage),
		errors.Is(err, moderate.ErrInvalidImageRef),
		errors.Is(err, moderate.ErrInvalidThreshold):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		slog.Error("moderate: request failed", "path", c.FullPath(), "error", err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("moderate: http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
