package restwrap

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	http "github.com/bogdanfinn/fhttp"
)

// supportedMethods are the verbs a Session can send.
var supportedMethods = map[string]bool{
	http.MethodGet:     true,
	http.MethodPost:    true,
	http.MethodPut:     true,
	http.MethodPatch:   true,
	http.MethodDelete:  true,
	http.MethodHead:    true,
	http.MethodOptions: true,
}

// Request describes one call made through a Dispatcher.
type Request struct {
	Method string // case-insensitive
	URL    string

	// Body is nil, a raw payload (string, []byte, json.RawMessage) sent as-is,
	// or any other value, which is sent as JSON. Only a map[string]any body
	// can carry a solved captcha token.
	Body any

	HeaderMods *HeaderModification
	Timeout    time.Duration // bounds the transport exchange; 0 means none
	Log        *LogConfig    // nil means DefaultLogConfig
	Label      string        // caller name shown in log lines
}

func (r Request) logConfig() LogConfig {
	if r.Log == nil {
		return DefaultLogConfig
	}
	return *r.Log
}

// Response is a fully read, decoded HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Cookies    []*http.Cookie
	Body       []byte
}

func (r *Response) Text() string {
	return string(r.Body)
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Dispatcher sends requests on behalf of Sessions. A Dispatcher is safe for
// concurrent use; the Sessions it is handed are not.
type Dispatcher struct {
	retrier    *Retrier
	logger     Logger
	solver     Solver
	transports *transportPool
}

type Option func(*Dispatcher)

// WithLogger sets the log sink. The default discards everything.
func WithLogger(logger Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithSolver sets the captcha solver used by SendBypassingCaptcha.
func WithSolver(solver Solver) Option {
	return func(d *Dispatcher) {
		d.solver = solver
	}
}

// WithTransportFactory sets how transports are built for each proxy.
func WithTransportFactory(factory TransportFactory) Option {
	return func(d *Dispatcher) {
		d.transports = newTransportPool(factory)
	}
}

// WithTransport routes every request through t regardless of proxy.
func WithTransport(t Transport) Option {
	return WithTransportFactory(func(string) (Transport, error) {
		return t, nil
	})
}

// WithRetry overrides the connection reset budget and backoff.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(d *Dispatcher) {
		d.retrier.Attempts = attempts
		d.retrier.Backoff = backoff
	}
}

func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{
		retrier:    NewRetrier(nil),
		logger:     NopLogger{},
		transports: newTransportPool(nil),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = NopLogger{}
	}
	d.retrier.Logger = d.logger
	return d
}

// Send performs req on behalf of sess. Cookies set by the response are merged
// into sess; nothing else about sess changes.
func (d *Dispatcher) Send(ctx context.Context, sess *Session, req Request) (*Response, error) {
	return d.send(ctx, sess, req, false)
}

// CloseIdleConnections drops idle connections held by pooled transports.
func (d *Dispatcher) CloseIdleConnections() {
	d.transports.closeIdle()
}

func (d *Dispatcher) send(ctx context.Context, sess *Session, req Request, checkForCaptcha bool) (*Response, error) {
	logCfg := req.logConfig()

	method := strings.ToUpper(req.Method)
	if !supportedMethods[method] {
		d.logger.Log("Invalid request method.", LevelNone, logCfg)
		return nil, fmt.Errorf("%w: %q", ErrInvalidMethod, req.Method)
	}

	mods := req.HeaderMods
	if isNilBody(req.Body) {
		mods = mods.withRemoved("Content-Type")
	}
	overlay := sess.Overlay(mods)

	d.logger.Log(formatURLLine(req.Label, method, req.URL), LevelSend, logCfg)

	var payload []byte
	if !isNilBody(req.Body) {
		var err error
		payload, err = encodeBody(req.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		if logCfg.Enabled() {
			d.logger.Log(formatBodyLine(req.Label, req.Body), LevelSend, logCfg)
		}
	}

	httpReq, err := newHTTPRequest(method, req.URL, payload, overlay)
	if err != nil {
		return nil, &SendError{Method: method, URL: req.URL, Err: err}
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}
	httpReq = httpReq.WithContext(ctx)

	transport, err := d.transports.get(overlay.Proxy)
	if err != nil {
		return nil, &SendError{Method: method, URL: req.URL, Err: fmt.Errorf("failed to create transport: %w", err)}
	}

	raw, err := d.retrier.Send(ctx, transport, httpReq, logCfg)
	if err != nil {
		return nil, err
	}
	defer raw.Body.Close()

	body, err := io.ReadAll(raw.Body)
	if err != nil {
		return nil, &SendError{Method: method, URL: req.URL, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	resp := &Response{
		StatusCode: raw.StatusCode,
		Header:     raw.Header,
		Cookies:    raw.Cookies(),
		Body:       DecodeResponse(raw.Header, body),
	}

	d.logger.Log(formatResponseLine(req.Label, resp.Text()), LevelReceive, logCfg)

	if sess.Cookies == nil {
		sess.Cookies = NewCookieStore()
	}
	sess.Cookies.Merge(resp.Cookies)

	if checkForCaptcha {
		if err := CheckCaptcha(resp); err != nil {
			return nil, err
		}
	}

	return resp, nil
}

func newHTTPRequest(method, url string, payload []byte, overlay *Session) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	httpReq, err := http.NewRequest(method, url, body)
	if err != nil {
		return nil, err
	}

	httpReq.Header = overlay.Header.Clone()
	if overlay.Cookies != nil && overlay.Cookies.Len() > 0 {
		httpReq.Header.Set("Cookie", overlay.Cookies.Header())
	}
	return httpReq, nil
}

// encodeBody passes raw payloads through and encodes everything else as JSON
// without HTML escaping.
func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case string:
		return []byte(b), nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func isNilBody(body any) bool {
	if body == nil {
		return true
	}
	m, ok := body.(map[string]any)
	return ok && m == nil
}
