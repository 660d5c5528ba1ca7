package remote_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/tickerlens/internal/config"
	"github.com/quantfold/tickerlens/internal/models"
	"github.com/quantfold/tickerlens/internal/remote"
)

func newClient(t *testing.T, handler http.Handler, secret string) *remote.HTTPClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return remote.NewHTTPClient(config.RemoteConfig{
		BaseURL:        server.URL,
		RequestTimeout: 5 * time.Second,
		TokenSecret:    secret,
	}, zerolog.Nop())
}

func TestSubmitSendsTickerAndDate(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(remote.SubmitResponse{
			RunID:    "run-1",
			ThreadID: "thread-1",
			Status:   "pending",
		})
	}), "")

	resp, err := client.Submit(context.Background(), "AAPL", "2024-01-15")
	require.NoError(t, err)
	assert.Equal(t, "/api/analysis", gotPath)
	assert.Equal(t, map[string]string{"ticker": "AAPL", "date": "2024-01-15"}, gotBody)
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "thread-1", resp.ThreadID)
}

func TestSubmitRejectsResponseWithoutRunID(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "pending"})
	}), "")

	_, err := client.Submit(context.Background(), "AAPL", "2024-01-15")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no run id")
}

func TestGetStatusParsesResponse(t *testing.T) {
	result := `{"score":0.7}`
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/analysis/run-42", r.URL.Path)
		json.NewEncoder(w).Encode(remote.StatusResponse{Status: "success", Result: &result})
	}), "")

	resp, err := client.GetStatus(context.Background(), "run-42")
	require.NoError(t, err)
	assert.Equal(t, "success", resp.Status)
	require.NotNil(t, resp.Result)
	assert.Equal(t, result, *resp.Result)
}

func TestNon2xxIsAnError(t *testing.T) {
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "run not found", http.StatusNotFound)
	}), "")

	_, err := client.GetStatus(context.Background(), "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "run not found")
}

func TestRequestsAreSignedWhenSecretConfigured(t *testing.T) {
	const secret = "test-secret"
	var header string
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(remote.StatusResponse{Status: "running"})
	}), secret)

	_, err := client.GetStatus(context.Background(), "run-1")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(header, "Bearer "))

	token, err := jwt.Parse(strings.TrimPrefix(header, "Bearer "), func(*jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	require.NoError(t, err)
	require.True(t, token.Valid)
	claims, ok := token.Claims.(jwt.MapClaims)
	require.True(t, ok)
	assert.Equal(t, "tickerlens-client", claims["sub"])
}

func TestNoAuthorizationHeaderWithoutSecret(t *testing.T) {
	var header string
	client := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(remote.StatusResponse{Status: "running"})
	}), "")

	_, err := client.GetStatus(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Empty(t, header)
}

func TestMapStatus(t *testing.T) {
	cases := map[string]models.JobStatus{
		"pending": models.JobStatusAccepted,
		"running": models.JobStatusRunning,
		"success": models.JobStatusSuccess,
		"error":   models.JobStatusError,
	}
	for remoteStatus, want := range cases {
		got, ok := remote.MapStatus(remoteStatus)
		require.Truef(t, ok, "status %q", remoteStatus)
		assert.Equal(t, want, got)
	}

	_, ok := remote.MapStatus("cancelled")
	assert.False(t, ok)
}
