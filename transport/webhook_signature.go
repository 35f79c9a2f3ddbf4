package transport

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	HeaderSignature        = "X-Changefeed-Signature"
	defaultSignaturePrefix = "sha256="

	SignatureEncodingHex    = "hex"
	SignatureEncodingBase64 = "base64"
)

// HMACSigner signs webhook bodies with HMAC-SHA256 so subscribers can check
// the notification came from this feed.
type HMACSigner struct {
	Header   string
	Prefix   string
	Secret   string
	Encoding string // hex | base64
}

func NewHMACSigner(secret string) HMACSigner {
	return HMACSigner{
		Header:   HeaderSignature,
		Prefix:   defaultSignaturePrefix,
		Secret:   strings.TrimSpace(secret),
		Encoding: SignatureEncodingHex,
	}
}

func (s HMACSigner) header() string {
	if header := strings.TrimSpace(s.Header); header != "" {
		return header
	}
	return HeaderSignature
}

// Sign returns the header name and value for body.
func (s HMACSigner) Sign(body []byte) (string, string, error) {
	secret := strings.TrimSpace(s.Secret)
	if secret == "" {
		return "", "", fmt.Errorf("transport: signature secret is required")
	}
	sum := s.sum(secret, body)
	var encoded string
	switch strings.ToLower(strings.TrimSpace(s.Encoding)) {
	case SignatureEncodingBase64:
		encoded = base64.StdEncoding.EncodeToString(sum)
	default:
		encoded = hex.EncodeToString(sum)
	}
	return s.header(), s.Prefix + encoded, nil
}

// Verify checks a received signature header value against body.
func (s HMACSigner) Verify(body []byte, signature string) error {
	secret := strings.TrimSpace(s.Secret)
	if secret == "" {
		return fmt.Errorf("transport: signature secret is required")
	}
	signature = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(signature), s.Prefix))
	if signature == "" {
		return fmt.Errorf("transport: %s signature value is required", s.header())
	}

	var (
		decoded []byte
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(s.Encoding)) {
	case SignatureEncodingBase64:
		decoded, err = base64.StdEncoding.DecodeString(signature)
	default:
		decoded, err = hex.DecodeString(signature)
	}
	if err != nil {
		return fmt.Errorf("transport: decode signature: %w", err)
	}
	if subtle.ConstantTimeCompare(decoded, s.sum(secret, body)) != 1 {
		return fmt.Errorf("transport: signature verification failed")
	}
	return nil
}

func (HMACSigner) sum(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}
