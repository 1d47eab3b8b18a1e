package restwrap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Solver turns a captcha challenge into a response token.
type Solver interface {
	Solve(ctx context.Context, siteKey, pageURL string) (string, error)
}

// SolverFunc adapts a function to Solver.
type SolverFunc func(ctx context.Context, siteKey, pageURL string) (string, error)

func (f SolverFunc) Solve(ctx context.Context, siteKey, pageURL string) (string, error) {
	return f(ctx, siteKey, pageURL)
}

// SolveError is a failure reported by a captcha solver.
type SolveError struct {
	Provider string
	Err      error
}

func (e *SolveError) Error() string {
	if e.Provider == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *SolveError) Unwrap() error {
	return e.Err
}

func wrapSolveError(err error) error {
	var se *SolveError
	if errors.As(err, &se) {
		return err
	}
	return &SolveError{Err: err}
}

// =============================================================================
// Task API (2Captcha / RuCaptcha / CapSolver)
// =============================================================================

const (
	twoCaptchaBaseURL = "https://api.2captcha.com"
	ruCaptchaBaseURL  = "https://api.rucaptcha.com"
	capSolverBaseURL  = "https://api.capsolver.com"

	defaultSolveTimeout = 180 * time.Second
)

type taskResponse struct {
	ErrorId          int             `json:"errorId"`
	ErrorCode        string          `json:"errorCode"`
	ErrorDescription string          `json:"errorDescription"`
	TaskId           json.RawMessage `json:"taskId"`
	Status           string          `json:"status"`
	Solution         map[string]any  `json:"solution"`
}

// TaskSolver solves hCaptcha through a createTask/getTaskResult service.
type TaskSolver struct {
	Name         string
	APIKey       string
	BaseURL      string
	TaskType     string
	PollInterval time.Duration
	Timeout      time.Duration
	UserAgent    string

	client *http.Client
}

func NewTwoCaptcha(apiKey string) *TaskSolver {
	return &TaskSolver{
		Name:         "2captcha",
		APIKey:       apiKey,
		BaseURL:      twoCaptchaBaseURL,
		TaskType:     "HCaptchaTaskProxyless",
		PollInterval: 5 * time.Second, // 2captcha recommends 5s polling
		Timeout:      defaultSolveTimeout,
	}
}

// NewRuCaptcha speaks the same protocol as 2Captcha on rucaptcha's host.
func NewRuCaptcha(apiKey string) *TaskSolver {
	s := NewTwoCaptcha(apiKey)
	s.Name = "rucaptcha"
	s.BaseURL = ruCaptchaBaseURL
	return s
}

func NewCapSolver(apiKey string) *TaskSolver {
	return &TaskSolver{
		Name:         "capsolver",
		APIKey:       apiKey,
		BaseURL:      capSolverBaseURL,
		TaskType:     "HCaptchaTaskProxyLess",
		PollInterval: time.Second,
		Timeout:      defaultSolveTimeout,
	}
}

func (s *TaskSolver) Solve(ctx context.Context, siteKey, pageURL string) (string, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultSolveTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	task := map[string]any{
		"type":       s.TaskType,
		"websiteURL": pageURL,
		"websiteKey": siteKey,
	}
	if s.UserAgent != "" {
		task["userAgent"] = s.UserAgent
	}

	res, err := s.createTask(ctx, task)
	if err != nil {
		return "", &SolveError{Provider: s.Name, Err: err}
	}
	res, err = s.pollResult(ctx, res.TaskId)
	if err != nil {
		return "", &SolveError{Provider: s.Name, Err: err}
	}

	token, err := extractCaptchaToken(res.Solution)
	if err != nil {
		return "", &SolveError{Provider: s.Name, Err: err}
	}
	return token, nil
}

func (s *TaskSolver) createTask(ctx context.Context, task map[string]any) (*taskResponse, error) {
	res, err := s.request(ctx, "/createTask", map[string]any{
		"clientKey": s.APIKey,
		"task":      task,
	})
	if err != nil {
		return nil, err
	}
	if res.ErrorId != 0 {
		return nil, handleTaskError(res.ErrorCode, res.ErrorDescription)
	}
	return res, nil
}

func (s *TaskSolver) pollResult(ctx context.Context, taskId json.RawMessage) (*taskResponse, error) {
	interval := s.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return nil, errors.New("solve timeout")
		case <-time.After(interval):
		}

		res, err := s.request(ctx, "/getTaskResult", map[string]any{
			"clientKey": s.APIKey,
			"taskId":    taskId,
		})
		if err != nil {
			return nil, err
		}
		if res.ErrorId != 0 {
			return nil, handleTaskError(res.ErrorCode, res.ErrorDescription)
		}
		if res.Status == "ready" {
			return res, nil
		}
	}
}

func (s *TaskSolver) request(ctx context.Context, path string, payload any) (*taskResponse, error) {
	client := s.client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return doJSONRequest[taskResponse](ctx, client, s.BaseURL+path, payload, 3)
}

func handleTaskError(code, description string) error {
	err := fmt.Errorf("%s - %s", code, description)
	if isFatalCode(code) {
		return NewFatalError(err)
	}
	return err
}

func extractCaptchaToken(solution map[string]any) (string, error) {
	for _, key := range []string{"gRecaptchaResponse", "token"} {
		if token, ok := solution[key].(string); ok && token != "" {
			return token, nil
		}
	}
	return "", errors.New("no token in solution")
}

func doJSONRequest[T any](ctx context.Context, client *http.Client, uri string, payload any, maxRetries int) (*T, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := range maxRetries {
		if attempt > 0 {
			backoff := time.Duration(1<<attempt) * time.Second
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(payloadBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		responseData, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}

		result := new(T)
		if err := json.Unmarshal(responseData, result); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w (body: %s)", err, string(responseData))
		}
		return result, nil
	}

	return nil, fmt.Errorf("API request failed after %d retries: %w", maxRetries, lastErr)
}

// =============================================================================
// Provider Rotation
// =============================================================================

// ProviderManager spreads solves across several solvers, starting each solve
// at the next provider and falling through to the others on failure.
type ProviderManager struct {
	mu        sync.Mutex
	providers []*TaskSolver
	next      int
}

func NewProviderManager(providers ...*TaskSolver) *ProviderManager {
	pm := &ProviderManager{}
	for _, p := range providers {
		if p != nil && p.APIKey != "" {
			pm.providers = append(pm.providers, p)
		}
	}
	return pm
}

func (pm *ProviderManager) Count() int {
	return len(pm.providers)
}

// Providers returns the provider names in rotation order.
func (pm *ProviderManager) Providers() []string {
	names := make([]string, len(pm.providers))
	for i, p := range pm.providers {
		names[i] = p.Name
	}
	return names
}

func (pm *ProviderManager) start() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	i := pm.next
	pm.next = (pm.next + 1) % len(pm.providers)
	return i
}

func (pm *ProviderManager) Solve(ctx context.Context, siteKey, pageURL string) (string, error) {
	if len(pm.providers) == 0 {
		return "", ErrNoSolver
	}

	first := pm.start()
	var lastErr error
	for i := range pm.providers {
		p := pm.providers[(first+i)%len(pm.providers)]
		token, err := p.Solve(ctx, siteKey, pageURL)
		if err == nil {
			return token, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return "", lastErr
}
