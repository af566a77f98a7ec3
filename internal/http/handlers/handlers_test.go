package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/dealscope/backend/internal/service"
)

func testRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/api/tools/invoke", h.InvokeTool)
	r.GET("/api/deals/:org_id/:deal_id/forecast", h.DealForecast)
	return r
}

func offlineHandler() *Handler {
	return &Handler{
		Engine:    &service.Engine{Logger: zerolog.Nop()},
		Validator: validator.New(),
		Logger:    zerolog.Nop(),
	}
}

func postJSON(t *testing.T, r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, _ := http.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestInvokeRejectsMissingTool(t *testing.T) {
	r := testRouter(offlineHandler())
	w := postJSON(t, r, "/api/tools/invoke", map[string]any{"args": map[string]any{"org_id": 7}})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestInvokeUnknownToolIgnored(t *testing.T) {
	r := testRouter(offlineHandler())
	w := postJSON(t, r, "/api/tools/invoke", map[string]any{
		"tool": "update_forecast",
		"args": map[string]any{"org_id": 7},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var res service.SaveResult
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !res.Ignored || res.Tool != "update_forecast" {
		t.Fatalf("expected ignored acknowledgement, got %+v", res)
	}
}

func TestInvokeInvalidOrgIsBadRequest(t *testing.T) {
	r := testRouter(offlineHandler())
	w := postJSON(t, r, "/api/tools/invoke", map[string]any{
		"tool": service.ToolSaveDealData,
		"args": map[string]any{"org_id": 0, "deal_id": 42, "pain_score": 2},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 before any DB access, got %d: %s", w.Code, w.Body.String())
	}
}

func TestForecastRejectsBadPathIDs(t *testing.T) {
	r := testRouter(offlineHandler())
	req, _ := http.NewRequest(http.MethodGet, "/api/deals/abc/42/forecast", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
