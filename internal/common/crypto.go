package common

import (
	"crypto/rand"
	"encoding/base64"
)

// GenerateSecret returns n characters of URL-safe random text.
func GenerateSecret(n int) (string, error) {
	// each 3 bytes → 4 Base64 chars
	rawSize := (n*3 + 3) / 4
	raw := make([]byte, rawSize)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(raw)
	return secret[:n], nil
}

// GenerateDigitCode returns n random decimal digits, for verification codes.
func GenerateDigitCode(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	code := make([]byte, n)
	for i, b := range raw {
		code[i] = '0' + b%10
	}
	return string(code), nil
}

// CaptchaAlphabet excludes glyphs that read ambiguously (0/O, 1/I).
const CaptchaAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// GenerateCaptchaCode returns n characters drawn from CaptchaAlphabet.
func GenerateCaptchaCode(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	code := make([]byte, n)
	for i, b := range raw {
		code[i] = CaptchaAlphabet[int(b)%len(CaptchaAlphabet)]
	}
	return string(code), nil
}
