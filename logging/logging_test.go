package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestNew_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Level: "warn", Format: FormatJSON, Writer: buf})

	log.Info().Msg("hidden")
	log.Warn().Str("budget_id", "b1").Msg("shown")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "shown", entry["message"])
	assert.Equal(t, "b1", entry["budget_id"])
	assert.Contains(t, entry, "time")
}

func TestNew_Console(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Writer: buf})
	log.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
}

func TestContext(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{Format: FormatJSON, Writer: buf})

	ctx := WithContext(context.Background(), log)
	l := FromContext(ctx)
	l.Info().Msg("from context")
	assert.Contains(t, buf.String(), "from context")

	// no logger in context: nothing is written, nothing panics
	nop := FromContext(context.Background())
	nop.Info().Msg("dropped")
	assert.Equal(t, zerolog.Disabled, nop.GetLevel())
}

func TestMiddleware(t *testing.T) {
	// GIVEN: a handler that logs through the request logger
	// WHEN: a request goes through RequestID and Middleware
	// THEN: both lines carry the request id and the access line has the status
	buf := &bytes.Buffer{}
	base := New(Options{Format: FormatJSON, Writer: buf})

	h := middleware.RequestID(Middleware(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := FromContext(r.Context())
		l.Info().Msg("inside")
		w.WriteHeader(http.StatusTeapot)
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/budgets", nil)
	req.Header.Set(middleware.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var inside, access map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &inside))
	require.NoError(t, json.Unmarshal(lines[1], &access))
	assert.Equal(t, "req-42", inside["request_id"])
	assert.Equal(t, "req-42", access["request_id"])
	assert.EqualValues(t, http.StatusTeapot, access["status"])
	assert.Equal(t, "/api/budgets", access["path"])
}
