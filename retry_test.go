package restwrap

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errReset = fmt.Errorf("read tcp 127.0.0.1:443: %w", syscall.ECONNRESET)

func newTestRetrier(logger Logger) (*Retrier, *int) {
	sleeps := 0
	r := NewRetrier(logger)
	r.sleep = func(context.Context, time.Duration) error {
		sleeps++
		return nil
	}
	return r, &sleeps
}

func newPostRequest(t *testing.T, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "https://api.example.com/v1", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	return req
}

func TestRetrierSend(t *testing.T) {
	t.Run("success on first attempt", func(t *testing.T) {
		r, sleeps := newTestRetrier(nil)
		ft := newFakeTransport(fakeReply{body: "ok"})

		resp, err := r.Send(context.Background(), ft, newPostRequest(t, "x"), DefaultLogConfig)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 1, ft.calls())
		assert.Zero(t, *sleeps)
	})

	t.Run("recovers after two resets", func(t *testing.T) {
		logger := &recordingLogger{}
		r, sleeps := newTestRetrier(logger)
		ft := newFakeTransport(fakeReply{err: errReset}, fakeReply{err: errReset}, fakeReply{body: "ok"})

		resp, err := r.Send(context.Background(), ft, newPostRequest(t, `{"a":1}`), DefaultLogConfig)
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 3, ft.calls())
		assert.Equal(t, 2, *sleeps)
		assert.Equal(t, []string{"Connection reset by peer. Retrying...", "Connection reset by peer. Retrying..."}, logger.messages())

		for i := range 3 {
			assert.Equal(t, `{"a":1}`, ft.request(i).Body, "attempt %d body", i)
		}
	})

	t.Run("exhausts the budget", func(t *testing.T) {
		r, sleeps := newTestRetrier(nil)
		ft := newFakeTransport(fakeReply{err: errReset})

		_, err := r.Send(context.Background(), ft, newPostRequest(t, "x"), DefaultLogConfig)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.ErrorIs(t, err, syscall.ECONNRESET)
		assert.Equal(t, KindRetriesExhausted, FailureKind(err))
		assert.Equal(t, 3, ft.calls())
		assert.Equal(t, 3, *sleeps)
	})

	t.Run("backs off when logging is disabled", func(t *testing.T) {
		logger := &recordingLogger{}
		r, sleeps := newTestRetrier(logger)
		ft := newFakeTransport(fakeReply{err: errReset})

		_, err := r.Send(context.Background(), ft, newPostRequest(t, "x"), LogConfig{})
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, 3, ft.calls())
		assert.Equal(t, 3, *sleeps)
		assert.Empty(t, logger.messages())
	})

	t.Run("other failures are not retried", func(t *testing.T) {
		r, sleeps := newTestRetrier(nil)
		boom := errors.New("tls: handshake failure")
		ft := newFakeTransport(fakeReply{err: boom})

		_, err := r.Send(context.Background(), ft, newPostRequest(t, "x"), DefaultLogConfig)
		var se *SendError
		require.ErrorAs(t, err, &se)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, http.MethodPost, se.Method)
		assert.Equal(t, KindTransport, FailureKind(err))
		assert.Equal(t, 1, ft.calls())
		assert.Zero(t, *sleeps)
	})

	t.Run("custom budget", func(t *testing.T) {
		r, _ := newTestRetrier(nil)
		r.Attempts = 5
		ft := newFakeTransport(fakeReply{err: errReset})

		_, err := r.Send(context.Background(), ft, newPostRequest(t, "x"), LogConfig{})
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.Equal(t, 5, ft.calls())
	})

	t.Run("cancelled during backoff", func(t *testing.T) {
		r := NewRetrier(nil)
		r.Backoff = time.Hour
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		ft := newFakeTransport(fakeReply{err: errReset})

		_, err := r.Send(ctx, ft, newPostRequest(t, "x"), DefaultLogConfig)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, ft.calls())
	})
}

func TestIsConnectionReset(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"errno", errReset, true},
		{"broken pipe errno", fmt.Errorf("write: %w", syscall.EPIPE), true},
		{"message only", errors.New("http2: connection reset by peer"), true},
		{"windows", errors.New("An existing connection was forcibly closed by the remote host."), true},
		{"timeout", errors.New("context deadline exceeded"), false},
		{"refused", fmt.Errorf("dial: %w", syscall.ECONNREFUSED), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConnectionReset(tt.err))
		})
	}
}
