// Package breach queries a Pwned Passwords compatible range API. Only the
// first five hex characters of a password's SHA-1 digest leave the process.
package breach

import (
	"bufio"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.pwnedpasswords.com"
	PrefixLength   = 5
	SuffixLength   = 35
)

var ErrInvalidPrefix = errors.New("breach: prefix must be 5 upper-case hex characters")

// Client fetches k-anonymity ranges
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
}

type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent sets the User-Agent the API requires
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

func NewClient(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		userAgent:  "bastion-password-policy",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// HashParts returns the upper-case hex SHA-1 of password split into the
// 5-char prefix sent to the API and the 35-char suffix kept locally.
func HashParts(password string) (prefix, suffix string) {
	sum := sha1.Sum([]byte(password))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	return digest[:PrefixLength], digest[PrefixLength:]
}

// Range fetches every suffix known for prefix with its breach count.
// Padding entries (count 0) are dropped.
func (c *Client) Range(ctx context.Context, prefix string) (map[string]int64, error) {
	if !validPrefix(prefix) {
		return nil, ErrInvalidPrefix
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/range/"+prefix, nil)
	if err != nil {
		return nil, fmt.Errorf("breach: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Add-Padding", "true")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("breach: range request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("breach: range request returned status %d", resp.StatusCode)
	}

	return parseRange(resp.Body)
}

// parseRange reads "SUFFIX:COUNT" lines
func parseRange(r io.Reader) (map[string]int64, error) {
	counts := make(map[string]int64)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		suffix, rawCount, ok := strings.Cut(line, ":")
		if !ok || len(suffix) != SuffixLength {
			return nil, fmt.Errorf("breach: malformed range line %q", line)
		}
		count, err := strconv.ParseInt(strings.TrimSpace(rawCount), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("breach: malformed count in line %q: %w", line, err)
		}
		if count > 0 {
			counts[strings.ToUpper(suffix)] = count
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("breach: read range body: %w", err)
	}
	return counts, nil
}

func validPrefix(prefix string) bool {
	if len(prefix) != PrefixLength {
		return false
	}
	for _, r := range prefix {
		if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'F') {
			return false
		}
	}
	return true
}
