package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"coldfront/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- parsePagination ---

func TestParsePagination(t *testing.T) {
	app := fiber.New()
	app.Get("/items", func(c *fiber.Ctx) error {
		p := parsePagination(c, 25)
		return c.JSON(fiber.Map{"limit": p.Limit, "offset": p.Offset})
	})

	tests := []struct {
		query      string
		wantLimit  float64
		wantOffset float64
	}{
		{"", 25, 0},
		{"?limit=10&offset=30", 10, 30},
		{"?limit=-5&offset=-1", 25, 0},
		{"?limit=5000", maxPaginationLimit, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/items"+tt.query, nil))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			var body map[string]float64
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantLimit, body["limit"])
			assert.Equal(t, tt.wantOffset, body["offset"])
		})
	}
}

// --- parseBody ---

func TestParseBody_FieldErrorsUseJSONNames(t *testing.T) {
	app := fiber.New()
	app.Post("/review", func(c *fiber.Ctx) error {
		var req setupRequest
		if err := parseBody(c, &req); err != nil {
			return nil
		}
		return c.SendStatus(fiber.StatusOK)
	})

	post := func(body string) *http.Response {
		req := httptest.NewRequest(http.MethodPost, "/review", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		require.NoError(t, err)
		t.Cleanup(func() { _ = resp.Body.Close() })
		return resp
	}

	resp := post(`{"status":"Done","directory_name":"` + strings.Repeat("x", 256) + `"}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body models.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, models.CodeValidation, body.Code)
	assert.Equal(t, "Must be one of: Pending, Complete.", body.Fields["status"])
	assert.Equal(t, "Ensure this field has no more than 255 characters.", body.Fields["directory_name"])

	resp = post(`not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(`{"status":"Complete"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// --- respondError ---

func TestRespondError_MapsCodes(t *testing.T) {
	s := &Server{}
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"validation", models.NewValidationError("bad"), http.StatusBadRequest, "bad"},
		{"not found", models.NewNotFoundError("Storage request", 4), http.StatusNotFound, "Storage request 4 not found."},
		{"forbidden", models.NewForbiddenError("no"), http.StatusForbidden, "no"},
		{"conflict", models.NewConflictError("taken"), http.StatusConflict, "taken"},
		{"wrapped validation", fmt.Errorf("complete: %w", models.NewValidationError("wrapped")), http.StatusBadRequest, "wrapped"},
		{"transient", fmt.Errorf("claim: %w", &pgconn.PgError{Code: "40001"}), http.StatusServiceUnavailable, "Service temporarily unavailable, retry the request."},
		{"internal", models.NewInternalError(errors.New("disk on fire")), http.StatusInternalServerError, "Internal server error"},
		{"plain", errors.New("secret detail"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return s.respondError(c, tt.err) })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
			require.NoError(t, err)
			defer func() { _ = resp.Body.Close() }()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			var body models.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantBody, body.Error)
		})
	}
}

// --- health ---

func TestHealthChecks(t *testing.T) {
	env := newAPIEnv(t)

	resp, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ready, err := env.app.Test(httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	require.NoError(t, err)
	defer func() { _ = ready.Body.Close() }()
	assert.Equal(t, http.StatusOK, ready.StatusCode)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.NewDecoder(ready.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "healthy", body.Checks["database"])
	assert.Equal(t, "unavailable", body.Checks["redis"])
}
