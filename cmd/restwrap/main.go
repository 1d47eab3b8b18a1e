// Command restwrap sends requests through a restwrap Dispatcher.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	http "github.com/bogdanfinn/fhttp"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"restwrap"
)

type rootOptions struct {
	configPath string
	proxy      string
	timeout    time.Duration
	noConsole  bool
	logFile    bool
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "restwrap:", err)
		return 1
	}
	return 0
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "restwrap",
		Short:         "Send API requests with session, retry and captcha handling",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			_ = godotenv.Load()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "TOML config file")
	flags.StringVar(&opts.proxy, "proxy", "", "proxy (host:port[:user:pass] or URL)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "per-request transport timeout")
	flags.BoolVar(&opts.noConsole, "quiet", false, "disable console request logging")
	flags.BoolVar(&opts.logFile, "log-file", false, "also log to the configured log_path")

	cmd.AddCommand(newSendCommand(opts), newBatchCommand(opts))
	return cmd
}

// env bundles everything built from the config for one invocation.
type env struct {
	cfg        restwrap.Config
	logger     *restwrap.ZeroLogger
	dispatcher *restwrap.Dispatcher
	session    *restwrap.Session
}

func (o *rootOptions) load() (*env, error) {
	cfg, err := restwrap.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if o.proxy != "" {
		cfg.Proxy = o.proxy
	}
	if o.timeout > 0 {
		cfg.Timeout = o.timeout
	}
	if o.noConsole {
		cfg.LogConsole = false
	}
	if o.logFile {
		cfg.LogFile = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, err
	}
	session, err := cfg.NewSession()
	if err != nil {
		logger.Close()
		return nil, err
	}

	return &env{
		cfg:        cfg,
		logger:     logger,
		dispatcher: cfg.NewDispatcher(logger, cfg.NewSolver()),
		session:    session,
	}, nil
}

func (e *env) request(method, url string, body any, mods *restwrap.HeaderModification, label string) restwrap.Request {
	logCfg := e.cfg.LogConfig()
	return restwrap.Request{
		Method:     method,
		URL:        url,
		Body:       body,
		HeaderMods: mods,
		Timeout:    e.cfg.Timeout,
		Log:        &logCfg,
		Label:      label,
	}
}

// =============================================================================
// send
// =============================================================================

type sendOptions struct {
	data    string
	headers []string
	remove  []string
	cookies []string
	bypass  bool
	label   string
}

func newSendCommand(root *rootOptions) *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send METHOD URL",
		Short: "Send a single request",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd.Context(), root, opts, args[0], args[1])
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.data, "data", "d", "", "request body; JSON objects are sent as JSON, anything else raw")
	flags.StringArrayVarP(&opts.headers, "header", "H", nil, `extra header "Name: value"`)
	flags.StringArrayVar(&opts.remove, "remove", nil, "header to strip from the session")
	flags.StringArrayVar(&opts.cookies, "cookie", nil, "cookie name=value")
	flags.BoolVar(&opts.bypass, "bypass", false, "solve captcha challenges and resubmit")
	flags.StringVar(&opts.label, "label", "send", "label shown in log lines")
	return cmd
}

func runSend(ctx context.Context, root *rootOptions, opts *sendOptions, method, url string) error {
	e, err := root.load()
	if err != nil {
		return err
	}
	defer e.logger.Close()

	mods, err := parseHeaderMods(opts.headers, opts.remove)
	if err != nil {
		return err
	}
	for _, c := range opts.cookies {
		name, value, ok := strings.Cut(c, "=")
		if !ok {
			return fmt.Errorf("invalid cookie %q, expected name=value", c)
		}
		e.session.Cookies.Set(&http.Cookie{Name: name, Value: value})
	}

	req := e.request(method, url, parseBody(opts.data), mods, opts.label)

	var resp *restwrap.Response
	if opts.bypass {
		resp, err = e.dispatcher.SendBypassingCaptcha(ctx, e.session, req)
	} else {
		resp, err = e.dispatcher.Send(ctx, e.session, req)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", restwrap.FailureKind(err), err)
	}

	fmt.Printf("%d\n%s\n", resp.StatusCode, resp.Text())
	return nil
}

func parseHeaderMods(headers, remove []string) (*restwrap.HeaderModification, error) {
	if len(headers) == 0 && len(remove) == 0 {
		return nil, nil
	}
	mods := &restwrap.HeaderModification{Update: map[string]string{}, Remove: remove}
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q, expected \"Name: value\"", h)
		}
		mods.Update[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return mods, nil
}

// parseBody turns --data into a request body: "" is no body, a JSON object
// becomes a map so captcha tokens can be added, anything else is raw.
func parseBody(data string) any {
	if data == "" {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err == nil && m != nil {
		return m
	}
	return data
}

// =============================================================================
// batch
// =============================================================================

type batchOptions struct {
	file        string
	workers     int
	proxiesFile string
}

// batchLine is one JSON line of a batch file.
type batchLine struct {
	Method string         `json:"method"`
	URL    string         `json:"url"`
	Body   map[string]any `json:"body"`
	Raw    string         `json:"raw"`
	Bypass bool           `json:"bypass"`
}

func newBatchCommand(root *rootOptions) *cobra.Command {
	opts := &batchOptions{}

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Send requests from a JSON-lines file across concurrent workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd.Context(), root, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.file, "file", "f", "", "JSON-lines request file")
	flags.IntVarP(&opts.workers, "workers", "w", 4, "concurrent workers, one session each")
	flags.StringVar(&opts.proxiesFile, "proxies", "", "proxy list, one per line")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runBatch(ctx context.Context, root *rootOptions, opts *batchOptions) error {
	e, err := root.load()
	if err != nil {
		return err
	}
	defer e.logger.Close()

	jobs, err := readBatchFile(opts.file, e)
	if err != nil {
		return err
	}

	var proxies *restwrap.ProxyList
	if opts.proxiesFile != "" {
		proxies, err = restwrap.LoadProxyList(opts.proxiesFile)
		if err != nil {
			return err
		}
	}

	pool, err := restwrap.NewPool(e.dispatcher, e.session, opts.workers, proxies)
	if err != nil {
		return err
	}
	pool.Start(ctx)

	go func() {
		for _, job := range jobs {
			if !pool.Submit(ctx, job) {
				break
			}
		}
		pool.Close()
	}()

	var failed int
	var fatalErr error
	for result := range pool.Results() {
		if result.Fatal {
			fatalErr = result.Error
			continue
		}
		if result.Error != nil {
			failed++
			fmt.Printf("[%d] %s error (%s): %v\n", result.Index, result.WorkerID, restwrap.FailureKind(result.Error), result.Error)
			continue
		}
		fmt.Printf("[%d] %s %d %s\n", result.Index, result.WorkerID, result.Response.StatusCode, result.Response.Text())
	}

	if fatalErr == nil {
		fatalErr = pool.Err()
	}
	if fatalErr != nil {
		return fmt.Errorf("aborted: %w", fatalErr)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d requests failed", failed, len(jobs))
	}
	return nil
}

func readBatchFile(path string, e *env) ([]restwrap.Job, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch file: %w", err)
	}
	defer f.Close()

	var jobs []restwrap.Job
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var bl batchLine
		if err := json.Unmarshal([]byte(line), &bl); err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineNum, err)
		}
		if bl.Method == "" || bl.URL == "" {
			return nil, fmt.Errorf("%s:%d: method and url are required", path, lineNum)
		}

		var body any
		switch {
		case bl.Body != nil:
			body = bl.Body
		case bl.Raw != "":
			body = bl.Raw
		}

		jobs = append(jobs, restwrap.Job{
			Index:   len(jobs),
			Request: e.request(bl.Method, bl.URL, body, nil, ""),
			Bypass:  bl.Bypass,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading batch file: %w", err)
	}
	if len(jobs) == 0 {
		return nil, errors.New("batch file has no requests")
	}
	return jobs, nil
}
