package restwrap

import (
	"slices"
	"sort"
	"strings"

	http "github.com/bogdanfinn/fhttp"
)

// HeaderModification is a per-call edit applied on top of a session's headers.
// Update runs before Remove, so a key named in both ends up absent.
type HeaderModification struct {
	Update map[string]string
	Remove []string
}

func (m *HeaderModification) isEmpty() bool {
	return m == nil || (len(m.Update) == 0 && len(m.Remove) == 0)
}

// withRemoved returns a copy of m whose Remove list also names header.
// m itself is left untouched.
func (m *HeaderModification) withRemoved(header string) *HeaderModification {
	out := &HeaderModification{}
	if m != nil {
		out.Update = m.Update
		out.Remove = slices.Clone(m.Remove)
	}
	for _, h := range out.Remove {
		if strings.EqualFold(h, header) {
			return out
		}
	}
	out.Remove = append(out.Remove, header)
	return out
}

// Session is the long-lived state shared by every request made on behalf of
// one client: headers in wire order, accumulated cookies and an optional proxy.
//
// A Session is not safe for concurrent use. Give each goroutine its own
// session (see Clone) instead of sharing one.
type Session struct {
	Header  http.Header
	Cookies *CookieStore
	Proxy   string
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{
		Header:  http.Header{},
		Cookies: NewCookieStore(),
	}
}

// SetHeader sets key to value, appending key to the header order when new.
func (s *Session) SetHeader(key, value string) {
	if s.Header == nil {
		s.Header = http.Header{}
	}
	if _, ok := s.Header[http.CanonicalHeaderKey(key)]; !ok {
		s.Header[http.HeaderOrderKey] = append(s.Header[http.HeaderOrderKey], strings.ToLower(key))
	}
	s.Header.Set(key, value)
}

// DelHeader removes key and its position in the header order.
func (s *Session) DelHeader(key string) {
	if s.Header == nil {
		return
	}
	s.Header.Del(key)
	order := s.Header[http.HeaderOrderKey]
	if len(order) == 0 {
		return
	}
	s.Header[http.HeaderOrderKey] = slices.DeleteFunc(slices.Clone(order), func(k string) bool {
		return strings.EqualFold(k, key)
	})
}

// HeaderOrder returns the lowercase header names in the order they are sent.
func (s *Session) HeaderOrder() []string {
	if s.Header == nil {
		return nil
	}
	return slices.Clone(s.Header[http.HeaderOrderKey])
}

// Clone returns an independent copy of s.
func (s *Session) Clone() *Session {
	out := &Session{
		Header:  http.Header{},
		Cookies: NewCookieStore(),
		Proxy:   s.Proxy,
	}
	if s.Header != nil {
		out.Header = s.Header.Clone()
	}
	if s.Cookies != nil {
		out.Cookies = s.Cookies.Clone()
	}
	return out
}

// Overlay derives a single-call session from s. Headers, cookies and proxy are
// copied, then mods is applied to the copy. s is never modified.
func (s *Session) Overlay(mods *HeaderModification) *Session {
	out := s.Clone()
	if mods.isEmpty() {
		return out
	}

	keys := make([]string, 0, len(mods.Update))
	for k := range mods.Update {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.SetHeader(k, mods.Update[k])
	}

	for _, k := range mods.Remove {
		out.DelHeader(k)
	}
	return out
}

// CookieStore holds cookies keyed by name, remembering insertion order.
type CookieStore struct {
	order   []string
	cookies map[string]*http.Cookie
}

func NewCookieStore() *CookieStore {
	return &CookieStore{cookies: make(map[string]*http.Cookie)}
}

// Set stores cookie, replacing any cookie with the same name. A cookie
// carrying a negative MaxAge deletes the stored one.
func (c *CookieStore) Set(cookie *http.Cookie) {
	if cookie == nil || cookie.Name == "" {
		return
	}
	if c.cookies == nil {
		c.cookies = make(map[string]*http.Cookie)
	}
	if cookie.MaxAge < 0 {
		c.Delete(cookie.Name)
		return
	}
	if _, ok := c.cookies[cookie.Name]; !ok {
		c.order = append(c.order, cookie.Name)
	}
	cp := *cookie
	c.cookies[cookie.Name] = &cp
}

// Merge stores every cookie in cookies.
func (c *CookieStore) Merge(cookies []*http.Cookie) {
	for _, cookie := range cookies {
		c.Set(cookie)
	}
}

func (c *CookieStore) Delete(name string) {
	if _, ok := c.cookies[name]; !ok {
		return
	}
	delete(c.cookies, name)
	c.order = slices.DeleteFunc(c.order, func(n string) bool { return n == name })
}

func (c *CookieStore) Get(name string) (*http.Cookie, bool) {
	cookie, ok := c.cookies[name]
	return cookie, ok
}

// Value returns the value of the named cookie, or "" if absent.
func (c *CookieStore) Value(name string) string {
	if cookie, ok := c.cookies[name]; ok {
		return cookie.Value
	}
	return ""
}

func (c *CookieStore) Len() int {
	return len(c.order)
}

// All returns the stored cookies in insertion order.
func (c *CookieStore) All() []*http.Cookie {
	out := make([]*http.Cookie, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.cookies[name])
	}
	return out
}

func (c *CookieStore) Clone() *CookieStore {
	out := NewCookieStore()
	for _, cookie := range c.All() {
		out.Set(cookie)
	}
	return out
}

// Header renders the stored cookies as a Cookie request header value.
func (c *CookieStore) Header() string {
	parts := make([]string, 0, len(c.order))
	for _, name := range c.order {
		parts = append(parts, name+"="+c.cookies[name].Value)
	}
	return strings.Join(parts, "; ")
}
