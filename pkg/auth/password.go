package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const (
	BcryptCost      = 12
	TokenBcryptCost = 10

	// bcrypt rejects inputs longer than this many bytes
	bcryptMaxInput = 72
)

// bcryptInput returns the bytes fed to bcrypt. Inputs that fit are used as-is
// so hashes stay interchangeable with plain bcrypt; longer inputs (JWTs,
// long multi-byte passphrases) are reduced to a base64 SHA-256 digest.
func bcryptInput(secret string) []byte {
	if len(secret) <= bcryptMaxInput {
		return []byte(secret)
	}
	sum := sha256.Sum256([]byte(secret))
	return []byte(base64.RawStdEncoding.EncodeToString(sum[:]))
}

func HashPassword(password string) (string, error) {
	return HashPasswordWithCost(password, BcryptCost)
}

func HashPasswordWithCost(password string, cost int) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword(bcryptInput(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), bcryptInput(password))
}

// HashToken hashes a session credential for storage
func HashToken(rawToken string, cost int) (string, error) {
	if rawToken == "" {
		return "", fmt.Errorf("token cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword(bcryptInput(rawToken), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash token: %w", err)
	}
	return string(hashed), nil
}

// TokenMatches compares a presented credential with a stored token hash
func TokenMatches(tokenHash, rawToken string) bool {
	if tokenHash == "" || rawToken == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(tokenHash), bcryptInput(rawToken)) == nil
}

// DummyHash is compared against when no account exists so that unknown and
// known emails cost the same bcrypt work.
var DummyHash = func() string {
	h, err := bcrypt.GenerateFromPassword([]byte("bastion-dummy-password"), BcryptCost)
	if err != nil {
		panic(fmt.Sprintf("failed to build dummy hash: %v", err))
	}
	return string(h)
}()
