package analytics

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"strings"
)

const (
	maxPathLength        = 240
	maxHostLength        = 120
	maxStoredURLLength   = 500
	referrerDirect       = "direct"
	referrerUnknown      = "unknown"
	sessionHashSeparator = ":"
)

// Hasher derives irreversible keys from visitor-supplied values. The salt is
// process-wide; rotating it breaks continuity of unique-visitor counts.
type Hasher struct {
	salt string
}

// NewHasher creates a hasher with the given salt
func NewHasher(salt string) *Hasher {
	return &Hasher{salt: salt}
}

// Hash returns hex(sha256(salt + ":" + value))
func (h *Hasher) Hash(value string) string {
	sum := sha256.Sum256([]byte(h.salt + sessionHashSeparator + value))
	return hex.EncodeToString(sum[:])
}

// SessionKey derives the stored session key from a raw session token
func (h *Hasher) SessionKey(token string) string {
	return h.Hash(token)
}

// UserAgentHash hashes a user agent; an empty user agent yields nil
func (h *Hasher) UserAgentHash(userAgent string) *string {
	if userAgent == "" {
		return nil
	}
	hashed := h.Hash(userAgent)
	return &hashed
}

// NormalizePath forces a leading slash and caps the length. Anything not
// starting with "/" collapses to "/".
func NormalizePath(path string) string {
	if !strings.HasPrefix(path, "/") {
		return "/"
	}
	return truncate(path, maxPathLength)
}

// NormalizeReferrerHost reduces a Referer header to a lowercase host, or
// "direct" when absent and "unknown" when unparsable.
func NormalizeReferrerHost(referrer string) string {
	if referrer == "" {
		return referrerDirect
	}
	u, err := parseURL(referrer)
	if err != nil {
		return referrerUnknown
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return referrerDirect
	}
	return truncate(host, maxHostLength)
}

// NormalizeURLForStorage returns the canonical form of an absolute URL,
// capped in length. ok is false when raw is empty or not absolute.
func NormalizeURLForStorage(raw string) (normalized string, ok bool) {
	u, ok := parseAbsoluteURL(raw)
	if !ok {
		return "", false
	}
	return truncate(u.String(), maxStoredURLLength), true
}

// TargetHost returns the lowercase host of an absolute URL, or "" when
// there is none.
func TargetHost(raw string) string {
	u, ok := parseAbsoluteURL(raw)
	if !ok {
		return ""
	}
	return truncate(strings.ToLower(u.Hostname()), maxHostLength)
}

// authoritySchemes always carry a host. Browsers accept them with missing
// or extra slashes ("http:example.com", "https:///example.com").
var authoritySchemes = map[string]bool{"http": true, "https": true, "ws": true, "wss": true, "ftp": true}

var errNoHost = errors.New("url has no host")

// parseURL parses an absolute URL the way a browser's URL parser does for
// the cases that matter here: slashes after an http(s) scheme are optional
// and repeatable, and such a URL without a host is invalid.
func parseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" {
		return nil, errNoHost
	}
	scheme := strings.ToLower(u.Scheme)
	if !authoritySchemes[scheme] || u.Host != "" {
		return u, nil
	}

	rest := strings.TrimLeft(raw[len(u.Scheme)+1:], `/\`)
	if rest == "" {
		return nil, errNoHost
	}
	u, err = url.Parse(scheme + "://" + rest)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, errNoHost
	}
	return u, nil
}

func parseAbsoluteURL(raw string) (*url.URL, bool) {
	if raw == "" {
		return nil, false
	}
	u, err := parseURL(raw)
	if err != nil {
		return nil, false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if authoritySchemes[u.Scheme] && u.Path == "" {
		u.Path = "/"
	}
	return u, true
}

// truncate caps s at n runes
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
