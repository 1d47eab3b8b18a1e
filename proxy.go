package restwrap

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"net/url"
	"os"
	"strings"
	"sync"
)

// ParseProxy normalizes a proxy line to a URL and a credential-free display
// string. Supported formats:
//   - host:port
//   - host:port:username:password
//   - http://[username:password@]host:port
//   - https://[username:password@]host:port
//   - socks5://[username:password@]host:port
func ParseProxy(line string) (proxyURL, display string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}

	if strings.Contains(line, "://") {
		parsed, err := url.Parse(line)
		if err != nil || parsed.Host == "" {
			return "", "", false
		}

		scheme := parsed.Scheme
		if scheme == "https" {
			// Proxy clients dial the proxy itself over plain HTTP.
			scheme = "http"
		}
		if scheme != "http" && scheme != "socks5" {
			return "", "", false
		}

		u := url.URL{Scheme: scheme, Host: parsed.Host, User: parsed.User}
		return u.String(), parsed.Host, true
	}

	parts := strings.Split(line, ":")
	switch len(parts) {
	case 2:
		host, port := parts[0], parts[1]
		display = host + ":" + port
		return "http://" + display, display, true

	case 4:
		host, port, user, pass := parts[0], parts[1], parts[2], parts[3]
		display = host + ":" + port
		u := url.URL{Scheme: "http", Host: display, User: url.UserPassword(user, pass)}
		return u.String(), display, true

	default:
		return "", "", false
	}
}

// ProxyList hands out proxies round-robin or at random.
type ProxyList struct {
	proxies []string
	display []string
	index   int
	mu      sync.Mutex
}

// LoadProxyList reads one proxy per line from filename, skipping blanks,
// comments and unparsable lines.
func LoadProxyList(filename string) (*ProxyList, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open proxy file: %w", err)
	}
	defer file.Close()

	pl, err := ReadProxyList(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return pl, nil
}

func ReadProxyList(r io.Reader) (*ProxyList, error) {
	pl := &ProxyList{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		proxyURL, disp, ok := ParseProxy(line)
		if !ok {
			continue
		}
		pl.proxies = append(pl.proxies, proxyURL)
		pl.display = append(pl.display, disp)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading proxies: %w", err)
	}
	if len(pl.proxies) == 0 {
		return nil, fmt.Errorf("no valid proxies found")
	}
	return pl, nil
}

func (pl *ProxyList) Count() int {
	return len(pl.proxies)
}

// Next returns the proxy after the current one, wrapping around.
func (pl *ProxyList) Next() string {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	p := pl.proxies[pl.index]
	pl.index = (pl.index + 1) % len(pl.proxies)
	return p
}

// Random returns a random proxy URL and its index for display lookup.
func (pl *ProxyList) Random() (proxyURL string, idx int) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	idx = rand.Intn(len(pl.proxies))
	return pl.proxies[idx], idx
}

// DisplayAt returns the display string for proxy at given index.
func (pl *ProxyList) DisplayAt(idx int) string {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	if idx >= 0 && idx < len(pl.display) {
		return pl.display[idx]
	}
	return ""
}
