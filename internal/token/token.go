package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	pinMin  = 100000
	pinSpan = 900000
)

var pinPattern = regexp.MustCompile(`^[0-9]{6}$`)

// NewSessionToken returns an opaque 64-char hex credential (32 random
// bytes). Used for both moderator and player tokens.
func NewSessionToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand failure is unrecoverable for credentials
		panic(fmt.Sprintf("token: rand.Read failed: %v", err))
	}
	return hex.EncodeToString(b)
}

// NewPin returns a random 6-digit game PIN in [100000, 999999].
func NewPin() string {
	n, err := rand.Int(rand.Reader, big.NewInt(pinSpan))
	if err != nil {
		return fmt.Sprintf("%06d", time.Now().UnixNano()%pinSpan+pinMin)
	}
	return fmt.Sprintf("%06d", n.Int64()+pinMin)
}

// ValidPin reports whether s is a well-formed 6-digit PIN.
func ValidPin(s string) bool {
	return pinPattern.MatchString(s)
}

// HashPassword hashes a moderator password for storage.
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassword checks a plain password against the stored hash.
func VerifyPassword(hashed, plain string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
	return err == nil
}
