package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/dealscope/backend/internal/confidence"
	"github.com/dealscope/backend/internal/db"
	"github.com/dealscope/backend/internal/forecast"
	"github.com/dealscope/backend/internal/models"
	"github.com/dealscope/backend/internal/service"
)

type Handler struct {
	Store     *db.Store
	Engine    *service.Engine
	Validator *validator.Validate
	Logger    zerolog.Logger
	AdminKey  string
}

type InvokeRequest struct {
	Tool string         `json:"tool" validate:"required"`
	Args map[string]any `json:"args" validate:"required"`
}

func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		writeError(c, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "Database unavailable", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) InvokeTool(c *gin.Context) {
	var req InvokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body", err.Error())
		return
	}
	if err := h.Validator.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "tool and args are required", err.Error())
		return
	}

	res, err := h.Engine.HandleToolCall(c.Request.Context(), req.Tool, req.Args)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidOrg), errors.Is(err, service.ErrInvalidDeal):
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		case errors.Is(err, service.ErrDealNotFound):
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Deal not found", nil)
		default:
			h.Logger.Error().Err(err).Str("tool", req.Tool).Msg("tool call failed")
			writeError(c, http.StatusInternalServerError, "DB_ERROR", "Save failed", err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handler) DealsList(c *gin.Context) {
	orgID, err := strconv.ParseInt(c.Query("org_id"), 10, 64)
	if err != nil || orgID <= 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "org_id query parameter required", nil)
		return
	}
	minScore, _ := strconv.Atoi(c.Query("min_score"))
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	deals, err := h.Store.ListDeals(c.Request.Context(), orgID, c.Query("stage"), minScore, limit, offset)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list deals", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": deals, "count": len(deals)})
}

func (h *Handler) DealDetails(c *gin.Context) {
	orgID, dealID, ok := pathIDs(c)
	if !ok {
		return
	}
	snap, err := h.Store.GetDealSnapshot(c.Request.Context(), orgID, dealID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Deal not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load deal", err.Error())
		return
	}
	c.JSON(http.StatusOK, snap)
}

var sourceParams = map[string]confidence.Source{
	"":                 confidence.SourceRep,
	"rep_reported":     confidence.SourceRep,
	"ai_extracted":     confidence.SourceAI,
	"manager_override": confidence.SourceManager,
	"system_default":   confidence.SourceDefault,
}

func (h *Handler) DealConfidence(c *gin.Context) {
	orgID, dealID, ok := pathIDs(c)
	if !ok {
		return
	}
	src, ok := sourceParams[c.Query("source")]
	if !ok {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "unknown source classification", c.Query("source"))
		return
	}

	snap, err := h.Store.GetDealSnapshot(c.Request.Context(), orgID, dealID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Deal not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load deal", err.Error())
		return
	}

	res := confidence.Score(confidence.Input{
		Snapshot:     snap,
		Source:       src,
		Extraction:   c.Query("extraction"),
		IngestionRef: c.Query("ingestion_ref"),
	})
	c.JSON(http.StatusOK, res)
}

func (h *Handler) DealForecast(c *gin.Context) {
	orgID, dealID, ok := pathIDs(c)
	if !ok {
		return
	}
	snap, err := h.Store.GetDealSnapshot(c.Request.Context(), orgID, dealID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(c, http.StatusNotFound, "NOT_FOUND", "Deal not found", nil)
			return
		}
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to load deal", err.Error())
		return
	}

	bucket, found := forecast.Bucket(
		snap["health_score"],
		stringField(snap, "closure_stage"),
		stringField(snap, "sales_stage"),
		stringField(snap, "forecast_stage"),
	)
	if !found {
		c.JSON(http.StatusOK, gin.H{"bucket": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"bucket": bucket})
}

func (h *Handler) AuditList(c *gin.Context) {
	orgID, dealID, ok := pathIDs(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	events, err := h.Store.ListAuditEvents(c.Request.Context(), orgID, dealID, limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Failed to list audit events", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": events, "count": len(events)})
}

func (h *Handler) ImportDeals(c *gin.Context) {
	var deals []models.Deal
	if err := c.ShouldBindJSON(&deals); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid JSON body", err.Error())
		return
	}
	if len(deals) == 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "no deals supplied", nil)
		return
	}
	for i, d := range deals {
		if d.OrgID <= 0 || d.DealID <= 0 {
			writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "org_id and deal_id must be positive", gin.H{"index": i})
			return
		}
	}

	inserted, err := h.Store.ImportDeals(c.Request.Context(), deals)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "DB_ERROR", "Import failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"inserted": inserted})
}

func pathIDs(c *gin.Context) (int64, int64, bool) {
	orgID, err := strconv.ParseInt(c.Param("org_id"), 10, 64)
	if err != nil || orgID <= 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "org_id must be a positive integer", nil)
		return 0, 0, false
	}
	dealID, err := strconv.ParseInt(c.Param("deal_id"), 10, 64)
	if err != nil || dealID <= 0 {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "deal_id must be a positive integer", nil)
		return 0, 0, false
	}
	return orgID, dealID, true
}

func stringField(snap map[string]any, key string) string {
	switch v := snap[key].(type) {
	case string:
		return v
	case *string:
		if v != nil {
			return *v
		}
	}
	return ""
}

func writeError(c *gin.Context, status int, code string, message string, details any) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}
