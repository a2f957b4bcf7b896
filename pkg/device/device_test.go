package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		ua          string
		wantType    Type
		wantBrowser string
		wantOS      string
	}{
		{
			name:        "chrome on windows",
			ua:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			wantType:    Desktop,
			wantBrowser: "Chrome",
			wantOS:      "Windows",
		},
		{
			name:        "firefox on mac",
			ua:          "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:121.0) Gecko/20100101 Firefox/121.0",
			wantType:    Desktop,
			wantBrowser: "Firefox",
			wantOS:      "macOS",
		},
		{
			name:        "safari on iphone",
			ua:          "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			wantType:    Mobile,
			wantBrowser: "Safari",
			wantOS:      "iOS",
		},
		{
			name:     "ipad",
			ua:       "Mozilla/5.0 (iPad; CPU OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
			wantType: Tablet,
			wantOS:   "iPadOS",
		},
		{
			name:        "android phone",
			ua:          "Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
			wantType:    Mobile,
			wantBrowser: "Chrome",
			wantOS:      "Android",
		},
		{
			name:     "android tablet",
			ua:       "Mozilla/5.0 (Linux; Android 13; SM-X700) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			wantType: Tablet,
			wantOS:   "Android",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Parse(tt.ua)

			assert.Equal(t, tt.wantType, info.Type)
			assert.Equal(t, tt.wantOS, info.OSName)
			if tt.wantBrowser != "" {
				assert.Equal(t, tt.wantBrowser, info.Browser)
				assert.Equal(t, tt.wantBrowser+" on "+tt.wantOS, info.Name)
			}
			assert.NotEqual(t, UnknownName, info.Name)
		})
	}
}

func TestParse_NeverFails(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"???",
		"curl/8.4.0",
		"Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
		string([]byte{0xff, 0xfe, 0x00}),
	}

	for _, ua := range inputs {
		info := Parse(ua)
		assert.Equal(t, Unknown, info.Type, "ua=%q", ua)
		assert.Equal(t, UnknownName, info.Name, "ua=%q", ua)
	}
}

func TestInfo_Summary(t *testing.T) {
	assert.Equal(t, UnknownName, Parse("").Summary())

	info := Parse("Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	assert.Equal(t, "desktop: Chrome on Windows", info.Summary())
}
