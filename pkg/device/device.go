// Package device turns a User-Agent header into a coarse device description.
// Parse never fails: anything it cannot place becomes "Unknown Device".
package device

import (
	"regexp"
	"strings"

	"github.com/mssola/useragent"
)

type Type string

const (
	Desktop Type = "desktop"
	Mobile  Type = "mobile"
	Tablet  Type = "tablet"
	Unknown Type = "unknown"
)

const UnknownName = "Unknown Device"

// Info describes the client behind a User-Agent
type Info struct {
	Name           string
	Type           Type
	Browser        string
	BrowserVersion string
	OSName         string
	OSVersion      string
}

type typeRule struct {
	pattern *regexp.Regexp
	match   func(raw string, ua *useragent.UserAgent) bool
	typ     Type
}

// Evaluated in order; the first rule that matches wins.
var typeRules = []typeRule{
	{match: func(_ string, ua *useragent.UserAgent) bool { return ua.Bot() }, typ: Unknown},
	{pattern: regexp.MustCompile(`(?i)ipad|tablet|kindle|silk/|playbook|sm-t\d{3}|nexus (7|9|10)\b`), typ: Tablet},
	// Android devices that do not advertise "Mobile" are tablets
	{match: func(raw string, _ *useragent.UserAgent) bool {
		lower := strings.ToLower(raw)
		return strings.Contains(lower, "android") && !strings.Contains(lower, "mobile")
	}, typ: Tablet},
	{pattern: regexp.MustCompile(`(?i)iphone|ipod|android.*mobile|windows phone|blackberry|bb10|opera mini|iemobile`), typ: Mobile},
	{match: func(_ string, ua *useragent.UserAgent) bool { return ua.Mobile() }, typ: Mobile},
	{pattern: regexp.MustCompile(`(?i)windows nt|macintosh|mac os x|x11|linux|cros`), typ: Desktop},
}

type osRule struct {
	pattern *regexp.Regexp
	name    string
}

var osRules = []osRule{
	{regexp.MustCompile(`(?i)windows phone`), "Windows Phone"},
	{regexp.MustCompile(`(?i)windows`), "Windows"},
	{regexp.MustCompile(`(?i)ipad`), "iPadOS"},
	{regexp.MustCompile(`(?i)iphone|ipod`), "iOS"},
	{regexp.MustCompile(`(?i)cros`), "ChromeOS"},
	{regexp.MustCompile(`(?i)android`), "Android"},
	{regexp.MustCompile(`(?i)mac os x|macintosh`), "macOS"},
	{regexp.MustCompile(`(?i)linux|x11`), "Linux"},
}

// Parse classifies a User-Agent string
func Parse(raw string) Info {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Info{Name: UnknownName, Type: Unknown}
	}

	ua := useragent.New(raw)
	info := Info{Type: classify(raw, ua)}

	if info.Type == Unknown {
		info.Name = UnknownName
		return info
	}

	info.Browser, info.BrowserVersion = ua.Browser()
	for _, rule := range osRules {
		if rule.pattern.MatchString(raw) {
			info.OSName = rule.name
			break
		}
	}
	if info.OSName != "" {
		info.OSVersion = ua.OSInfo().Version
	}

	info.Name = displayName(info)
	return info
}

func classify(raw string, ua *useragent.UserAgent) Type {
	for _, rule := range typeRules {
		if rule.match != nil && rule.match(raw, ua) {
			return rule.typ
		}
		if rule.pattern != nil && rule.pattern.MatchString(raw) {
			return rule.typ
		}
	}
	return Unknown
}

func displayName(info Info) string {
	switch {
	case info.Browser != "" && info.OSName != "":
		return info.Browser + " on " + info.OSName
	case info.OSName != "":
		return info.OSName + " " + string(info.Type)
	case info.Browser != "":
		return info.Browser
	}
	return UnknownName
}

// Summary is a compact single-line description used on audit rows
func (i Info) Summary() string {
	if i.Type == Unknown {
		return UnknownName
	}
	return string(i.Type) + ": " + i.Name
}
