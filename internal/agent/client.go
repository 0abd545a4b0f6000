// Package agent is the client side of the storage request API used by
// provisioning agents: authenticate, claim the next request, report it
// complete and follow the event feed.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"coldfront/internal/models"
	"coldfront/internal/notifications"

	"github.com/gorilla/websocket"
)

// Claim is the payload returned when a request is claimed for provisioning.
type Claim struct {
	ID               uint                        `json:"id" yaml:"id"`
	ProjectName      string                      `json:"project_name" yaml:"project_name"`
	DirectoryPath    string                      `json:"directory_path" yaml:"directory_path"`
	SetSizeGB        int                         `json:"set_size_gb" yaml:"set_size_gb"`
	RequestedDeltaGB int                         `json:"requested_delta_gb" yaml:"requested_delta_gb"`
	Status           models.StorageRequestStatus `json:"status" yaml:"status"`
	ApprovalTime     *time.Time                  `json:"approval_time" yaml:"approval_time"`
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
	Fields     map[string]string
}

func (e *APIError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	return fmt.Sprintf("api error %d: %s (%s)", e.StatusCode, e.Message, strings.Join(parts, "; "))
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// Client talks to one API base URL, e.g. "http://localhost:8375/api".
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient returns a Client. A nil httpClient uses a 30 second timeout.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// Token returns the bearer token in use.
func (c *Client) Token() string { return c.token }

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	var out struct {
		AccessToken string    `json:"access_token"`
		ExpiresAt   time.Time `json:"expires_at"`
	}
	body := map[string]string{"username": username, "password": password}
	if _, err := c.do(ctx, http.MethodPost, "/auth/token", body, &out); err != nil {
		return "", time.Time{}, err
	}
	c.token = out.AccessToken
	return out.AccessToken, out.ExpiresAt, nil
}

// ClaimNext claims the oldest queued request. It returns nil when the queue
// is empty.
func (c *Client) ClaimNext(ctx context.Context) (*Claim, error) {
	var claim Claim
	status, err := c.do(ctx, http.MethodPost, "/storage/requests/next/claim/", nil, &claim)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &claim, nil
}

// Complete reports a claimed request provisioned in directoryName.
func (c *Client) Complete(ctx context.Context, id uint, directoryName string) (string, error) {
	var out struct {
		Detail string `json:"detail"`
	}
	path := fmt.Sprintf("/storage/requests/%d/complete/", id)
	body := map[string]string{"directory_name": directoryName}
	if _, err := c.do(ctx, http.MethodPatch, path, body, &out); err != nil {
		return "", err
	}
	return out.Detail, nil
}

// Get fetches one request.
func (c *Client) Get(ctx context.Context, id uint) (*models.StorageRequest, error) {
	var r models.StorageRequest
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/storage/requests/%d", id), nil, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Counts returns the number of requests per status.
func (c *Client) Counts(ctx context.Context) (map[models.StorageRequestStatus]int64, error) {
	counts := make(map[models.StorageRequestStatus]int64)
	if _, err := c.do(ctx, http.MethodGet, "/storage/requests/counts", nil, &counts); err != nil {
		return nil, err
	}
	return counts, nil
}

// Watch streams events from the feed to handle until ctx is done or the
// connection drops.
func (c *Client) Watch(ctx context.Context, handle func(notifications.Event)) error {
	u, err := url.Parse(c.baseURL + "/ws/storage-requests")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	q.Set("token", c.token)
	u.RawQuery = q.Encode()

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return decodeError(resp)
		}
		return fmt.Errorf("dial event feed: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		var ev notifications.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read event: %w", err)
		}
		handle(ev)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return resp.StatusCode, decodeError(resp)
	}
	if resp.StatusCode == http.StatusNoContent || out == nil {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return resp.StatusCode, nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	var body models.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err == nil && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Fields = body.Fields
	}
	return apiErr
}
