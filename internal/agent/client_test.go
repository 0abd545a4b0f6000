package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"coldfront/internal/models"
	"coldfront/internal/notifications"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_LoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/auth/token":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			if body["password"] != "secret" {
				writeJSON(w, http.StatusUnauthorized, models.ErrorResponse{Error: "Invalid username or password"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": "tok-123",
				"token_type":   "Bearer",
				"expires_at":   time.Now().Add(time.Hour),
			})
		case "/api/storage/requests/counts":
			assert.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, map[string]int64{"Approved - Queued": 3})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/", "", nil)

	_, _, err := c.Login(context.Background(), "agent", "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "Invalid username or password", apiErr.Message)
	assert.Empty(t, c.Token())

	token, _, err := c.Login(context.Background(), "agent", "secret")
	require.NoError(t, err)
	assert.Equal(t, "tok-123", token)

	counts, err := c.Counts(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, counts[models.StorageRequestQueued])
}

func TestClient_ClaimNext(t *testing.T) {
	empty := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/storage/requests/next/claim/", r.URL.Path)
		if empty {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		empty = true
		writeJSON(w, http.StatusOK, Claim{
			ID:               7,
			ProjectName:      "fc_lab",
			DirectoryPath:    "/global/scratch/fsa/fc_lab",
			SetSizeGB:        1500,
			RequestedDeltaGB: 1000,
			Status:           models.StorageRequestProcessing,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api", "tok", srv.Client())

	claim, err := c.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, claim)
	assert.EqualValues(t, 7, claim.ID)
	assert.Equal(t, 1500, claim.SetSizeGB)
	assert.Equal(t, models.StorageRequestProcessing, claim.Status)

	claim, err = c.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, claim)
}

func TestClient_CompleteErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)

		switch {
		case strings.HasPrefix(r.URL.Path, "/api/storage/requests/404/"):
			writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "Storage request 404 not found."})
		case body["directory_name"] == "":
			writeJSON(w, http.StatusBadRequest, models.ErrorResponse{
				Error:  "Invalid directory name",
				Fields: map[string]string{"directory_name": "Directory name cannot be empty."},
			})
		default:
			writeJSON(w, http.StatusOK, map[string]string{"detail": "Storage request 5 completed successfully."})
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api", "tok", nil)

	_, err := c.Complete(context.Background(), 404, "fc_lab")
	assert.True(t, IsNotFound(err))

	_, err = c.Complete(context.Background(), 5, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory_name: Directory name cannot be empty.")
	assert.False(t, IsNotFound(err))

	detail, err := c.Complete(context.Background(), 5, "fc_lab")
	require.NoError(t, err)
	assert.Equal(t, "Storage request 5 completed successfully.", detail)
}

func TestClient_Watch(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ws/storage-requests", r.URL.Path)
		assert.Equal(t, "tok", r.URL.Query().Get("token"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(notifications.Event{Type: notifications.EventRequestCreated, RequestID: 1})
		_ = conn.WriteJSON(notifications.Event{Type: notifications.EventRequestCompleted, RequestID: 1})
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api", "tok", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var got []notifications.EventType
	err := c.Watch(ctx, func(ev notifications.Event) { got = append(got, ev.Type) })
	require.NoError(t, err)
	assert.Equal(t, []notifications.EventType{
		notifications.EventRequestCreated,
		notifications.EventRequestCompleted,
	}, got)
}

func TestClient_WatchRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, models.ErrorResponse{Error: "Event feed unavailable"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api", "tok", nil)
	err := c.Watch(context.Background(), func(notifications.Event) {})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "Event feed unavailable", apiErr.Message)
}
