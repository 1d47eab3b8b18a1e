package restwrap

import (
	"sync"

	http "github.com/bogdanfinn/fhttp"
	tls_client "github.com/bogdanfinn/tls-client"
	"github.com/bogdanfinn/tls-client/profiles"
)

// Transport sends one HTTP request. tls_client.HttpClient satisfies it.
type Transport interface {
	Do(req *http.Request) (*http.Response, error)
}

// TransportFactory builds a Transport routed through proxyURL ("" for a
// direct connection).
type TransportFactory func(proxyURL string) (Transport, error)

const defaultClientTimeoutSeconds = 30

func NewClient(logger tls_client.Logger, proxyURL string) (tls_client.HttpClient, error) {
	return NewClientWithProfile(logger, proxyURL, DefaultProfile.TLSProfile)
}

// NewClientWithProfile builds a tls-client without a cookie jar: cookies are
// owned by the Session and sent explicitly on every request.
func NewClientWithProfile(logger tls_client.Logger, proxyURL string, profile profiles.ClientProfile) (tls_client.HttpClient, error) {
	if logger == nil {
		logger = tls_client.NewNoopLogger()
	}

	options := []tls_client.HttpClientOption{
		tls_client.WithTimeoutSeconds(defaultClientTimeoutSeconds),
		tls_client.WithClientProfile(profile),
		tls_client.WithRandomTLSExtensionOrder(),
		tls_client.WithNotFollowRedirects(),
	}

	if proxyURL != "" {
		options = append(options, tls_client.WithProxyUrl(proxyURL))
	}

	return tls_client.NewHttpClient(logger, options...)
}

// DefaultTransportFactory builds tls-client transports with DefaultProfile.
func DefaultTransportFactory(proxyURL string) (Transport, error) {
	return NewClient(nil, proxyURL)
}

// transportPool keeps one Transport per proxy so connections are reused
// across calls that share a proxy.
type transportPool struct {
	mu         sync.Mutex
	factory    TransportFactory
	transports map[string]Transport
}

func newTransportPool(factory TransportFactory) *transportPool {
	if factory == nil {
		factory = DefaultTransportFactory
	}
	return &transportPool{
		factory:    factory,
		transports: make(map[string]Transport),
	}
}

func (p *transportPool) get(proxyURL string) (Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if t, ok := p.transports[proxyURL]; ok {
		return t, nil
	}
	t, err := p.factory(proxyURL)
	if err != nil {
		return nil, err
	}
	p.transports[proxyURL] = t
	return t, nil
}

// closeIdle drops idle connections on every pooled transport that supports it.
func (p *transportPool) closeIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range p.transports {
		if c, ok := t.(interface{ CloseIdleConnections() }); ok {
			c.CloseIdleConnections()
		}
	}
}
