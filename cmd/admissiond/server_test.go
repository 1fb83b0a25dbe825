package main

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/failsafe-go/admission"
	"github.com/failsafe-go/admission/admissionhttp"
	"github.com/failsafe-go/admission/admissionprom"
	"github.com/failsafe-go/admission/config"
)

func newTestServer(t *testing.T) (*httptest.Server, *admission.Engine) {
	cfg := config.Default()
	registry := prometheus.NewRegistry()
	engine, err := admission.New(cfg.Engine, admission.WithObserver(admissionprom.NewObserver(registry, "test")))
	require.NoError(t, err)
	registry.MustRegister(admissionprom.NewCollector(engine, "test"))

	server := httptest.NewServer(newServer(engine, cfg, registry, slog.New(slog.NewTextHandler(io.Discard, nil))))
	t.Cleanup(func() {
		server.Close()
		engine.Close()
	})
	return server, engine
}

func doRequest(t *testing.T, method, url, priority string) *http.Response {
	req, err := http.NewRequest(method, url, nil)
	require.NoError(t, err)
	if priority != "" {
		req.Header.Set(admissionhttp.PriorityHeader, priority)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestServer_Work(t *testing.T) {
	t.Run("should admit work without feedback", func(t *testing.T) {
		server, _ := newTestServer(t)

		resp := doRequest(t, http.MethodGet, server.URL+"/work", "499")

		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("should shed low priority work under CPU pressure", func(t *testing.T) {
		// Given
		server, engine := newTestServer(t)
		resp := doRequest(t, http.MethodPost, server.URL+"/feedback/cpu?value=.99", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Less(t, engine.Watermark(admission.CPU), 499)

		// When
		critical := doRequest(t, http.MethodGet, server.URL+"/work", "0")
		bestEffort := doRequest(t, http.MethodGet, server.URL+"/work", "499")

		// Then
		assert.Equal(t, http.StatusOK, critical.StatusCode)
		assert.Equal(t, http.StatusTooManyRequests, bestEffort.StatusCode)
		assert.Equal(t, "1", bestEffort.Header.Get("Retry-After"))
	})
}

func TestServer_Feedback(t *testing.T) {
	server, engine := newTestServer(t)

	tests := []struct {
		name       string
		path       string
		expectCode int
	}{
		{"valid kind", "/feedback/queue_delay?value=10", http.StatusOK},
		{"unknown kind", "/feedback/memory?value=10", http.StatusNotFound},
		{"missing value", "/feedback/cpu", http.StatusBadRequest},
		{"malformed value", "/feedback/cpu?value=high", http.StatusBadRequest},
		{"NaN value", "/feedback/cpu?value=NaN", http.StatusBadRequest},
		{"infinite value", "/feedback/queue_delay?value=%2BInf", http.StatusBadRequest},
		{"negative infinite value", "/feedback/error_rate?value=-Inf", http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := doRequest(t, http.MethodPost, server.URL+tc.path, "")
			assert.Equal(t, tc.expectCode, resp.StatusCode)
		})
	}

	t.Run("should not apply non-finite values", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, server.URL+"/feedback/cpu?value=Inf", "")

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, 1.0, engine.AdmitFraction(admission.CPU))
	})

	t.Run("should report the updated watermark", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, server.URL+"/feedback/error_rate?value=.5", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "error_rate", body["kind"])
		assert.Equal(t, float64(engine.Watermark(admission.ErrorRate)), body["watermark"])
		assert.Less(t, body["admitFraction"], 1.0)
	})
}

func TestServer_Retry(t *testing.T) {
	// Given
	server, _ := newTestServer(t)

	// When / Then
	assert.Equal(t, http.StatusTooManyRequests, doRequest(t, http.MethodPost, server.URL+"/retry", "0").StatusCode)
	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, doRequest(t, http.MethodGet, server.URL+"/work", "0").StatusCode)
	}
	assert.Equal(t, http.StatusOK, doRequest(t, http.MethodPost, server.URL+"/retry", "0").StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, doRequest(t, http.MethodPost, server.URL+"/retry", "0").StatusCode)
}

func TestServer_Introspection(t *testing.T) {
	server, _ := newTestServer(t)
	doRequest(t, http.MethodGet, server.URL+"/work", "0")

	t.Run("should serve status", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, server.URL+"/status", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var status admission.Status
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
		assert.Len(t, status.Kinds, len(admission.Kinds()))
		assert.Equal(t, int64(1), status.WindowRequested)
	})

	t.Run("should serve config", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, server.URL+"/config", "")
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
		assert.Contains(t, string(body), "cpuTarget: 0.8")
	})

	t.Run("should serve metrics", func(t *testing.T) {
		resp := doRequest(t, http.MethodGet, server.URL+"/metrics", "")
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)

		assert.True(t, strings.Contains(string(body), "test_admission_admitted_total"))
		assert.True(t, strings.Contains(string(body), "test_admission_watermark"))
	})

	t.Run("should reset", func(t *testing.T) {
		resp := doRequest(t, http.MethodPost, server.URL+"/reset", "")
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel(""))
}
