package restwrap

import (
	"slices"

	http "github.com/bogdanfinn/fhttp"
	"github.com/bogdanfinn/fhttp/http2"
	"github.com/bogdanfinn/tls-client/profiles"
	tls "github.com/bogdanfinn/utls"
)

const (
	Chrome131UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	Chrome131SecChUa   = `"Google Chrome";v="131", "Chromium";v="131", "Not_A Brand";v="24"`
)

// PseudoHeaderOrder is the standard HTTP/2 pseudo-header order for all requests.
var PseudoHeaderOrder = []string{
	":method",
	":authority",
	":scheme",
	":path",
}

// BrowserProfile bundles a TLS client profile with its corresponding browser headers.
type BrowserProfile struct {
	TLSProfile profiles.ClientProfile
	UserAgent  string
	SecChUa    string
	Platform   string
	Mobile     string
}

// Chrome131Profile is the browser profile for desktop Chrome 131.
var Chrome131Profile = &BrowserProfile{
	TLSProfile: chrome131ClientProfile,
	UserAgent:  Chrome131UserAgent,
	SecChUa:    Chrome131SecChUa,
	Platform:   `"Windows"`,
	Mobile:     "?0",
}

// DefaultProfile is the default browser profile used for new clients.
var DefaultProfile = Chrome131Profile

var chrome131ClientProfile = profiles.NewClientProfile(
	tls.HelloChrome_131,
	map[http2.SettingID]uint32{
		http2.SettingHeaderTableSize:   65536,
		http2.SettingEnablePush:        0,
		http2.SettingInitialWindowSize: 6291456,
		http2.SettingMaxHeaderListSize: 262144,
	},
	[]http2.SettingID{
		http2.SettingHeaderTableSize,
		http2.SettingEnablePush,
		http2.SettingInitialWindowSize,
		http2.SettingMaxHeaderListSize,
	},
	PseudoHeaderOrder,
	15663105,
	nil,
	nil,
)

// NewSession returns a session preloaded with the profile's browser headers
// for JSON API calls, in Chrome's wire order.
func (p *BrowserProfile) NewSession() *Session {
	s := NewSession()
	s.SetHeader("sec-ch-ua-platform", p.Platform)
	s.SetHeader("user-agent", p.UserAgent)
	s.SetHeader("sec-ch-ua", p.SecChUa)
	s.SetHeader("content-type", "application/json")
	s.SetHeader("sec-ch-ua-mobile", p.Mobile)
	s.SetHeader("accept", "*/*")
	s.SetHeader("sec-fetch-site", "same-origin")
	s.SetHeader("sec-fetch-mode", "cors")
	s.SetHeader("sec-fetch-dest", "empty")
	s.SetHeader("accept-encoding", "gzip, deflate, br")
	s.SetHeader("accept-language", "en-US,en;q=0.9")
	s.Header[http.PHeaderOrderKey] = slices.Clone(PseudoHeaderOrder)
	return s
}
