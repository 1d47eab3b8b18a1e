package restwrap

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	http "github.com/bogdanfinn/fhttp"
)

// recordedRequest is what a fakeTransport saw for one attempt.
type recordedRequest struct {
	Method string
	URL    string
	Header http.Header
	Body   string
	Ctx    context.Context
}

type fakeReply struct {
	status int
	header http.Header
	body   string
	err    error
}

// fakeTransport replays queued replies in order; the last reply repeats.
type fakeTransport struct {
	mu       sync.Mutex
	replies  []fakeReply
	requests []recordedRequest
}

func newFakeTransport(replies ...fakeReply) *fakeTransport {
	return &fakeTransport{replies: replies}
}

func (f *fakeTransport) Do(req *http.Request) (*http.Response, error) {
	var body string
	if req.Body != nil {
		data, _ := io.ReadAll(req.Body)
		body = string(data)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, recordedRequest{
		Method: req.Method,
		URL:    req.URL.String(),
		Header: req.Header.Clone(),
		Body:   body,
		Ctx:    req.Context(),
	})

	i := len(f.requests) - 1
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	r := f.replies[i]
	if r.err != nil {
		return nil, r.err
	}

	header := r.header
	if header == nil {
		header = http.Header{}
	}
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Request:    req,
	}, nil
}

func (f *fakeTransport) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeTransport) request(i int) recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[i]
}

// recordingLogger keeps every line it is handed.
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Log(message string, _ LogLevel, _ LogConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, message)
}

func (l *recordingLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.lines...)
}

// newTestDispatcher routes through t with a near-zero retry backoff.
func newTestDispatcher(t Transport, opts ...Option) *Dispatcher {
	base := []Option{WithTransport(t), WithRetry(defaultRetryAttempts, time.Millisecond)}
	return NewDispatcher(append(base, opts...)...)
}

func jsonHeader() http.Header {
	return http.Header{"Content-Type": {"application/json"}}
}
