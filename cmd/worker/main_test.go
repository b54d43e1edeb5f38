package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func queueStats(err error) func(ctx context.Context) (map[string]interface{}, error) {
	return func(ctx context.Context) (map[string]interface{}, error) {
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"waiting": 2}, nil
	}
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name       string
		db         pinger
		statsErr   error
		wantStatus int
		wantBody   string
	}{
		{"healthy without database", nil, nil, http.StatusOK, "ok"},
		{"healthy with database", fakePinger{}, nil, http.StatusOK, "ok"},
		{"database down", fakePinger{err: errors.New("connection refused")}, nil, http.StatusServiceUnavailable, "degraded"},
		{"redis down", nil, errors.New("dial tcp: refused"), http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			newMux(tt.db, queueStats(tt.statsErr)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			assert.Equal(t, tt.wantStatus, rec.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantBody, body["status"])
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	rec := httptest.NewRecorder()
	newMux(nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
