// Package remote is the client for the analysis service that actually runs
// the financial analysis. Only submission and status checks cross this
// boundary; the pipeline itself is out of scope.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/quantfold/tickerlens/internal/config"
	"github.com/quantfold/tickerlens/internal/models"
)

type SubmitResponse struct {
	RunID     string    `json:"run_id"`
	ThreadID  string    `json:"thread_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

type StatusResponse struct {
	Status      string     `json:"status"`
	Progress    *float64   `json:"progress,omitempty"`
	CurrentStep *string    `json:"current_step,omitempty"`
	Result      *string    `json:"result,omitempty"`
	Error       *string    `json:"error,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type Client interface {
	Submit(ctx context.Context, ticker, date string) (SubmitResponse, error)
	GetStatus(ctx context.Context, runID string) (StatusResponse, error)
}

// remoteStatusMap maps the service's status vocabulary onto the local job
// state machine. A remote run still "pending" has been accepted but not
// started, which is the local accepted state.
var remoteStatusMap = map[string]models.JobStatus{
	"pending": models.JobStatusAccepted,
	"running": models.JobStatusRunning,
	"success": models.JobStatusSuccess,
	"error":   models.JobStatusError,
}

// MapStatus translates a remote status string. ok is false for vocabulary
// this client does not know.
func MapStatus(remote string) (models.JobStatus, bool) {
	status, ok := remoteStatusMap[remote]
	return status, ok
}

type HTTPClient struct {
	baseURL     string
	http        *http.Client
	tokenSecret []byte
	logger      zerolog.Logger
}

func NewHTTPClient(cfg config.RemoteConfig, logger zerolog.Logger) *HTTPClient {
	c := &HTTPClient{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		logger:  logger.With().Str("component", "remote_client").Logger(),
	}
	if cfg.TokenSecret != "" {
		c.tokenSecret = []byte(cfg.TokenSecret)
	}
	return c
}

func (c *HTTPClient) Submit(ctx context.Context, ticker, date string) (SubmitResponse, error) {
	payload, err := json.Marshal(map[string]string{
		"ticker": ticker,
		"date":   date,
	})
	if err != nil {
		return SubmitResponse{}, errors.Wrap(err, "encode submit payload")
	}
	var out SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/analysis", bytes.NewReader(payload), &out); err != nil {
		return SubmitResponse{}, err
	}
	if out.RunID == "" {
		return SubmitResponse{}, errors.New("remote service returned no run id")
	}
	return out, nil
}

func (c *HTTPClient) GetStatus(ctx context.Context, runID string) (StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/api/analysis/"+runID, nil, &out); err != nil {
		return StatusResponse{}, err
	}
	return out, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokenSecret != nil {
		token, err := c.requestToken()
		if err != nil {
			return errors.Wrap(err, "sign request token")
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: remote service returned %d: %s", method, path, resp.StatusCode, data)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

// requestToken signs a short-lived token identifying this client to the
// analysis service.
func (c *HTTPClient) requestToken() (string, error) {
	claims := jwt.MapClaims{
		"sub": "tickerlens-client",
		"aud": "analysis-service",
		"exp": time.Now().Add(time.Hour).Unix(),
		"iat": time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.tokenSecret)
}
