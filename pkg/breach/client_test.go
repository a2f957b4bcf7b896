package breach

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashParts(t *testing.T) {
	// SHA-1("password") = 5BAA61E4C9B93F3F0682250B6CF8331B7EE68FD8
	prefix, suffix := HashParts("password")

	assert.Equal(t, "5BAA6", prefix)
	assert.Equal(t, "1E4C9B93F3F0682250B6CF8331B7EE68FD8", suffix)
	assert.Len(t, suffix, SuffixLength)
}

func TestClient_Range(t *testing.T) {
	var gotPath, gotPadding, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotPadding = r.Header.Get("Add-Padding")
		gotUA = r.Header.Get("User-Agent")
		fmt.Fprint(w, "1E4C9B93F3F0682250B6CF8331B7EE68FD8:9659365\r\n")
		fmt.Fprint(w, "0018A45C4D1DEF81644B54AB7F969B88D65:3\r\n")
		fmt.Fprint(w, "00D4F6E8FA6EECAD2A3AA415EEC418D38EC:0\r\n")
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	counts, err := c.Range(context.Background(), "5BAA6")
	require.NoError(t, err)

	assert.Equal(t, "/range/5BAA6", gotPath)
	assert.Equal(t, "true", gotPadding)
	assert.NotEmpty(t, gotUA)
	assert.Equal(t, int64(9659365), counts["1E4C9B93F3F0682250B6CF8331B7EE68FD8"])
	assert.Equal(t, int64(3), counts["0018A45C4D1DEF81644B54AB7F969B88D65"])
	// padding rows are dropped
	_, padded := counts["00D4F6E8FA6EECAD2A3AA415EEC418D38EC"]
	assert.False(t, padded)
}

func TestClient_Range_InvalidPrefix(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", time.Second)

	for _, p := range []string{"", "5baa6", "5BAA", "5BAA6X", "GGGGG"} {
		_, err := c.Range(context.Background(), p)
		assert.ErrorIs(t, err, ErrInvalidPrefix, "prefix=%q", p)
	}
}

func TestClient_Range_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Range(context.Background(), "5BAA6")
	assert.Error(t, err)
}

func TestClient_Range_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, 20*time.Millisecond).Range(context.Background(), "5BAA6")
	assert.Error(t, err)
}

func TestParseRange_Malformed(t *testing.T) {
	_, err := parseRange(strings.NewReader("not-a-range-line\n"))
	assert.Error(t, err)

	_, err = parseRange(strings.NewReader("1E4C9B93F3F0682250B6CF8331B7EE68FD8:abc\n"))
	assert.Error(t, err)
}
