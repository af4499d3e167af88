// Package cookiejar implements an RFC 6265 cookie store keyed by
// public-suffix-aware domain, matching the policy net/http.CookieJar
// expects but exposing the ordered-send and raw-header details a
// fingerprinting client needs.
//
// Built in this module's map+RWMutex idiom (see pool.keyState for the
// same shape), backed by golang.org/x/net/publicsuffix for domain-match
// rules.
package cookiejar

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Cookie is a stored cookie plus the attributes that govern whether it is
// sent on a given request.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Expires  time.Time
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
	HostOnly bool
}

func (c *Cookie) expired(now time.Time) bool {
	return !c.Expires.IsZero() && now.After(c.Expires)
}

// Jar is a concurrency-safe cookie store. The zero value is not usable;
// use New.
type Jar struct {
	mu      sync.RWMutex
	entries map[string]map[string]*Cookie // domain -> name+path -> cookie
}

// New creates an empty Jar.
func New() *Jar {
	return &Jar{entries: make(map[string]map[string]*Cookie)}
}

func effectiveDomain(host string) (string, error) {
	if host == "" {
		return "", errors.New("cookiejar: empty host")
	}
	if ip := parseIP(host); ip {
		return host, nil
	}
	suffix, err := publicsuffix.EffectiveTLDPlusOne(strings.ToLower(host))
	if err != nil {
		// Single-label hosts (e.g. "localhost") have no public suffix entry;
		// treat the host itself as the effective domain.
		return strings.ToLower(host), nil
	}
	return suffix, nil
}

func parseIP(host string) bool {
	for _, r := range host {
		if r != '.' && r != ':' && (r < '0' || r > '9') && !(r >= 'a' && r <= 'f') && !(r >= 'A' && r <= 'F') {
			return false
		}
	}
	return strings.Contains(host, ".") || strings.Contains(host, ":")
}

// SetCookies stores cookies received from u's response, applying domain
// and path defaults per RFC 6265 §5.3.
func (j *Jar) SetCookies(u *url.URL, cookies []*http.Cookie) error {
	host := u.Hostname()
	bucket, err := effectiveDomain(host)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.entries[bucket] == nil {
		j.entries[bucket] = make(map[string]*Cookie)
	}

	now := time.Now()
	for _, hc := range cookies {
		domain := strings.ToLower(hc.Domain)
		hostOnly := domain == ""
		if hostOnly {
			domain = strings.ToLower(host)
		} else {
			domain = strings.TrimPrefix(domain, ".")
			if domain != strings.ToLower(host) && !strings.HasSuffix(strings.ToLower(host), "."+domain) {
				continue // domain cookie not valid for this host
			}
		}

		path := hc.Path
		if path == "" {
			path = defaultPath(u.Path)
		}

		c := &Cookie{
			Name:     hc.Name,
			Value:    hc.Value,
			Domain:   domain,
			Path:     path,
			Secure:   hc.Secure,
			HTTPOnly: hc.HttpOnly,
			SameSite: hc.SameSite,
			HostOnly: hostOnly,
		}
		if hc.Expires.IsZero() && hc.MaxAge != 0 {
			if hc.MaxAge < 0 {
				c.Expires = time.Unix(1, 0) // already expired
			} else {
				c.Expires = now.Add(time.Duration(hc.MaxAge) * time.Second)
			}
		} else {
			c.Expires = hc.Expires
		}

		key := c.Name + "\x00" + c.Path
		if c.expired(now) {
			delete(j.entries[bucket], key)
			continue
		}
		j.entries[bucket][key] = c
	}
	return nil
}

func defaultPath(urlPath string) string {
	if urlPath == "" || urlPath[0] != '/' {
		return "/"
	}
	idx := strings.LastIndex(urlPath, "/")
	if idx <= 0 {
		return "/"
	}
	return urlPath[:idx]
}

// Cookies returns the cookies that should be sent for u, in no particular
// guaranteed order beyond "most specific path first" per RFC 6265 §5.4.
func (j *Jar) Cookies(u *url.URL) []*http.Cookie {
	host := strings.ToLower(u.Hostname())
	bucket, err := effectiveDomain(host)
	if err != nil {
		return nil
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	now := time.Now()
	var matched []*Cookie
	for _, c := range j.entries[bucket] {
		if c.expired(now) {
			continue
		}
		if c.HostOnly && c.Domain != host {
			continue
		}
		if !c.HostOnly && host != c.Domain && !strings.HasSuffix(host, "."+c.Domain) {
			continue
		}
		if !pathMatch(c.Path, u.Path) {
			continue
		}
		if c.Secure && u.Scheme != "https" {
			continue
		}
		matched = append(matched, c)
	}

	sortByPathLength(matched)

	out := make([]*http.Cookie, 0, len(matched))
	for _, c := range matched {
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
	}
	return out
}

func pathMatch(cookiePath, requestPath string) bool {
	if requestPath == "" {
		requestPath = "/"
	}
	if cookiePath == requestPath {
		return true
	}
	if strings.HasPrefix(requestPath, cookiePath) {
		if strings.HasSuffix(cookiePath, "/") {
			return true
		}
		if len(requestPath) > len(cookiePath) && requestPath[len(cookiePath)] == '/' {
			return true
		}
	}
	return false
}

func sortByPathLength(cookies []*Cookie) {
	for i := 1; i < len(cookies); i++ {
		for j := i; j > 0 && len(cookies[j].Path) > len(cookies[j-1].Path); j-- {
			cookies[j], cookies[j-1] = cookies[j-1], cookies[j]
		}
	}
}
