// Package client provides an HTTP client for the kbstudio server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/raphaelgruber/kbstudio/internal/models"
	"github.com/raphaelgruber/kbstudio/internal/server"
	"github.com/raphaelgruber/kbstudio/internal/service"
)

// DefaultServerURL is used when neither an endpoint nor KBSTUDIO_SERVER_URL is set.
const DefaultServerURL = "http://localhost:8585"

// Client talks to the kbstudio HTTP API.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New creates a new client.
// If endpoint is empty, uses KBSTUDIO_SERVER_URL env var or defaults to localhost:8585.
// Timeout can be configured via KBSTUDIO_CLIENT_TIMEOUT env var (default 10m for large batches).
func New(endpoint string) *Client {
	if endpoint == "" {
		endpoint = os.Getenv("KBSTUDIO_SERVER_URL")
	}
	if endpoint == "" {
		endpoint = DefaultServerURL
	}

	timeout := 10 * time.Minute
	if t := os.Getenv("KBSTUDIO_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Endpoint returns the base URL the client talks to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Missing    []string
}

func (e *APIError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("server error %d: %s (missing: %s)", e.StatusCode, e.Message, strings.Join(e.Missing, ", "))
	}
	return fmt.Sprintf("server error %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the server.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// errorBody covers both the REST and the edge-function error shapes.
type errorBody struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Missing []string `json:"missing"`
}

// Execute sends a request and decodes the JSON response into result.
func (c *Client) Execute(ctx context.Context, method, path string, body io.Reader, contentType string, result any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil {
			switch {
			case eb.Error != "":
				apiErr.Message = eb.Error
			case eb.Message != "":
				apiErr.Message = eb.Message
			}
			apiErr.Missing = eb.Missing
		}
		return apiErr
	}

	if result != nil && len(data) > 0 {
		if err := json.Unmarshal(data, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) executeJSON(ctx context.Context, method, path string, payload, result any) error {
	var body io.Reader
	contentType := ""
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.Execute(ctx, method, path, body, contentType, result)
}

// =============================================================================
// Imports
// =============================================================================

// UploadInput describes a spreadsheet to stage on the server.
type UploadInput struct {
	Filename     string
	Content      []byte
	TargetEntity string
	SheetName    string
	Process      bool // Start a background run right after staging
}

// ImportState is a job with its latest tracked run.
type ImportState struct {
	Job *models.ImportJob `json:"job"`
	Run *service.Run      `json:"run,omitempty"`
}

// Upload stages a spreadsheet and optionally starts processing it.
func (c *Client) Upload(ctx context.Context, in UploadInput) (*ImportState, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", in.Filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(in.Content); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	fields := map[string]string{
		"target_entity": in.TargetEntity,
		"sheet":         in.SheetName,
	}
	if in.Process {
		fields["process"] = "true"
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart: %w", err)
	}

	var state ImportState
	if err := c.Execute(ctx, http.MethodPost, "/api/imports", &buf, mw.FormDataContentType(), &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Process runs a batch synchronously through the edge-function endpoint.
func (c *Client) Process(ctx context.Context, importID string) (*server.ProcessResponse, error) {
	var resp server.ProcessResponse
	err := c.executeJSON(ctx, http.MethodPost, "/functions/v1/process-knowledge-import",
		map[string]string{"importId": importID}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Run starts a background batch for an import.
func (c *Client) Run(ctx context.Context, importID string) (*service.Run, error) {
	var run service.Run
	if err := c.executeJSON(ctx, http.MethodPost, "/api/imports/"+url.PathEscape(importID)+"/run", nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// Cancel stops the active background run of an import.
func (c *Client) Cancel(ctx context.Context, importID string) error {
	return c.executeJSON(ctx, http.MethodPost, "/api/imports/"+url.PathEscape(importID)+"/cancel", nil, nil)
}

// GetImport fetches an import job and its latest run.
func (c *Client) GetImport(ctx context.Context, importID string) (*ImportState, error) {
	var state ImportState
	if err := c.executeJSON(ctx, http.MethodGet, "/api/imports/"+url.PathEscape(importID), nil, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// ListImports returns recent import jobs, newest first. A limit of 0 uses the server default.
func (c *Client) ListImports(ctx context.Context, limit int) ([]models.ImportJob, error) {
	path := "/api/imports"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var jobs []models.ImportJob
	if err := c.executeJSON(ctx, http.MethodGet, path, nil, &jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ListRows returns the staging rows of an import, optionally filtered by status.
func (c *Client) ListRows(ctx context.Context, importID string, status models.RowStatus) ([]models.StagingRow, error) {
	path := "/api/imports/" + url.PathEscape(importID) + "/rows"
	if status != "" {
		path += "?status=" + url.QueryEscape(string(status))
	}
	var rows []models.StagingRow
	if err := c.executeJSON(ctx, http.MethodGet, path, nil, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Progress returns a single progress snapshot.
func (c *Client) Progress(ctx context.Context, importID string) (*server.ProgressEvent, error) {
	var ev server.ProgressEvent
	if err := c.executeJSON(ctx, http.MethodGet, "/api/imports/"+url.PathEscape(importID)+"/progress", nil, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.Execute(ctx, http.MethodGet, "/health", nil, "", nil)
}

// =============================================================================
// Streaming progress
// =============================================================================

// WatchProgress streams progress snapshots over a websocket until the run is done.
// The onEvent callback is invoked for each snapshot. Return an error from onEvent to abort.
func (c *Client) WatchProgress(ctx context.Context, importID string, onEvent func(server.ProgressEvent) error) error {
	wsEndpoint := c.endpoint
	wsEndpoint = strings.Replace(wsEndpoint, "http://", "ws://", 1)
	wsEndpoint = strings.Replace(wsEndpoint, "https://", "wss://", 1)

	u, err := url.Parse(wsEndpoint + "/api/imports/" + url.PathEscape(importID) + "/events")
	if err != nil {
		return fmt.Errorf("parse endpoint: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return &APIError{StatusCode: resp.StatusCode, Message: "import not found"}
		}
		return fmt.Errorf("websocket connect: %w", err)
	}

	var mu sync.Mutex
	closed := false
	closeConn := func() {
		mu.Lock()
		defer mu.Unlock()
		if !closed {
			closed = true
			conn.Close()
		}
	}
	defer closeConn()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			closeConn()
		case <-done:
		}
	}()

	for {
		var ev server.ProgressEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read message: %w", err)
		}
		if err := onEvent(ev); err != nil {
			return err
		}
		if ev.Done {
			return nil
		}
	}
}
