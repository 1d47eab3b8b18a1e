package restwrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// taskServer fakes the createTask/getTaskResult API. The task becomes ready
// after pendingPolls processing replies.
type taskServer struct {
	createError  string
	pendingPolls int32
	token        string

	polls   atomic.Int32
	created atomic.Int32
	lastKey atomic.Value
}

func (s *taskServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var payload map[string]any
	_ = json.NewDecoder(r.Body).Decode(&payload)
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/createTask":
		s.created.Add(1)
		if task, ok := payload["task"].(map[string]any); ok {
			s.lastKey.Store(task["websiteKey"])
		}
		if s.createError != "" {
			_ = json.NewEncoder(w).Encode(map[string]any{"errorId": 1, "errorCode": s.createError, "errorDescription": "rejected"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"errorId": 0, "taskId": 7})
	case "/getTaskResult":
		if s.polls.Add(1) <= s.pendingPolls {
			_ = json.NewEncoder(w).Encode(map[string]any{"errorId": 0, "status": "processing"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"errorId":  0,
			"status":   "ready",
			"solution": map[string]any{"gRecaptchaResponse": s.token},
		})
	default:
		http.NotFound(w, r)
	}
}

func newTestTaskSolver(t *testing.T, name string, ts *taskServer) *TaskSolver {
	t.Helper()
	srv := httptest.NewServer(ts)
	t.Cleanup(srv.Close)

	s := NewTwoCaptcha("key-" + name)
	s.Name = name
	s.BaseURL = srv.URL
	s.PollInterval = time.Millisecond
	s.client = srv.Client()
	return s
}

func TestTaskSolver(t *testing.T) {
	t.Run("polls until ready", func(t *testing.T) {
		ts := &taskServer{pendingPolls: 2, token: "P1_token"}
		s := newTestTaskSolver(t, "2captcha", ts)

		token, err := s.Solve(context.Background(), "site-123", "https://example.com")
		require.NoError(t, err)
		assert.Equal(t, "P1_token", token)
		assert.Equal(t, int32(3), ts.polls.Load())
		assert.Equal(t, "site-123", ts.lastKey.Load())
	})

	t.Run("fatal error codes", func(t *testing.T) {
		ts := &taskServer{createError: "ERROR_ZERO_BALANCE"}
		s := newTestTaskSolver(t, "2captcha", ts)

		_, err := s.Solve(context.Background(), "site", "https://example.com")
		require.Error(t, err)
		assert.True(t, IsFatalError(err))
		var se *SolveError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, "2captcha", se.Provider)
	})

	t.Run("other error codes are not fatal", func(t *testing.T) {
		ts := &taskServer{createError: "ERROR_NO_SLOT_AVAILABLE"}
		s := newTestTaskSolver(t, "2captcha", ts)

		_, err := s.Solve(context.Background(), "site", "https://example.com")
		require.Error(t, err)
		assert.False(t, IsFatalError(err))
		assert.Contains(t, err.Error(), "ERROR_NO_SLOT_AVAILABLE")
	})

	t.Run("times out", func(t *testing.T) {
		ts := &taskServer{pendingPolls: 1 << 20}
		s := newTestTaskSolver(t, "2captcha", ts)
		s.Timeout = 50 * time.Millisecond

		_, err := s.Solve(context.Background(), "site", "https://example.com")
		assert.Error(t, err)
	})
}

func TestExtractCaptchaToken(t *testing.T) {
	token, err := extractCaptchaToken(map[string]any{"token": "t"})
	require.NoError(t, err)
	assert.Equal(t, "t", token)

	_, err = extractCaptchaToken(map[string]any{})
	assert.Error(t, err)
}

func TestProviderManager(t *testing.T) {
	t.Run("skips providers without keys", func(t *testing.T) {
		pm := NewProviderManager(NewRuCaptcha(""), NewTwoCaptcha("k"), NewCapSolver(""))
		assert.Equal(t, []string{"2captcha"}, pm.Providers())
	})

	t.Run("empty", func(t *testing.T) {
		_, err := NewProviderManager().Solve(context.Background(), "s", "u")
		assert.ErrorIs(t, err, ErrNoSolver)
	})

	t.Run("falls through to the next provider", func(t *testing.T) {
		bad := &taskServer{createError: "ERROR_NO_SLOT_AVAILABLE"}
		good := &taskServer{token: "from-second"}
		pm := NewProviderManager(newTestTaskSolver(t, "first", bad), newTestTaskSolver(t, "second", good))

		token, err := pm.Solve(context.Background(), "site", "https://example.com")
		require.NoError(t, err)
		assert.Equal(t, "from-second", token)
		assert.Equal(t, int32(1), bad.created.Load())
	})

	t.Run("rotates the starting provider", func(t *testing.T) {
		a := &taskServer{token: "a"}
		b := &taskServer{token: "b"}
		pm := NewProviderManager(newTestTaskSolver(t, "a", a), newTestTaskSolver(t, "b", b))

		first, err := pm.Solve(context.Background(), "site", "https://example.com")
		require.NoError(t, err)
		second, err := pm.Solve(context.Background(), "site", "https://example.com")
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, []string{first, second})
	})
}
