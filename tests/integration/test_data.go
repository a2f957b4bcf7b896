package integration

import (
	"fmt"
	"regexp"
	"time"
)

// TestCustomer generates unique test customer credentials using timestamp
func TestCustomer(suffix string) (email, password string) {
	ts := time.Now().UnixNano()
	email = fmt.Sprintf("test-%d-%s@example.com", ts, suffix)
	password = "quartz-Lantern-91-harbor"
	return
}

var codePattern = regexp.MustCompile(`\b(\d{6})\b`)

// ExtractCode pulls the six digit code out of a notification body
func ExtractCode(body string) string {
	if m := codePattern.FindStringSubmatch(body); m != nil {
		return m[1]
	}
	return ""
}
