package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNew_JSONRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "warn", Format: "json", Output: &buf})

	logger.Info("dropped")
	logger.Warn("kept", "source_id", "s1")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "kept", entry["msg"])
	assert.Equal(t, "s1", entry["source_id"])
}

func TestFromContext_DefaultsWhenMissing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Same(t, slog.Default(), FromContext(req.Context()))
}

func TestMiddleware_LogsRequestWithStatusAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: "debug", Format: "json", Output: &buf})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(Middleware(logger))
	r.Get("/missing", func(w http.ResponseWriter, r *http.Request) {
		assert.NotSame(t, slog.Default(), FromContext(r.Context()))
		w.WriteHeader(http.StatusNotFound)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing", nil))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, float64(http.StatusNotFound), entry[FieldStatusCode])
	assert.Equal(t, "/missing", entry[FieldPath])
	assert.NotEmpty(t, entry[FieldRequestID])
}
