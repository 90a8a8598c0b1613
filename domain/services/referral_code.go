package services

import (
	"crypto/rand"
	"fmt"
	"strings"
)

const (
	referralCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referralCodeLength   = 8
)

// GenerateReferralCode returns a random code over an alphabet without look-alike characters
func GenerateReferralCode() (string, error) {
	buf := make([]byte, referralCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate referral code: %w", err)
	}
	for i := range buf {
		buf[i] = referralCodeAlphabet[int(buf[i])%len(referralCodeAlphabet)]
	}
	return string(buf), nil
}

// NormalizeReferralCode canonicalizes a human-entered code
func NormalizeReferralCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
