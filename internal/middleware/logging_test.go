package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecureLogger_RedactsSensitiveQuery(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := SecureLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusLocked)
	}))

	req := httptest.NewRequest(http.MethodPost, "/auth/unlock/confirm?code=123456", nil)
	req.RemoteAddr = "198.51.100.4:5000"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "/auth/unlock/confirm?[REDACTED]", entry["path"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "198.51.100.4", entry["client_ip"])
	assert.NotContains(t, buf.String(), "123456")
}
