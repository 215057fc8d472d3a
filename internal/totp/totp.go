// Package totp implements RFC 6238 time-based one-time passwords (SHA1, 6 digits, 30s).
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	secretBytes = 20
	digits      = 6
	period      = 30
	// skew is the number of adjacent steps accepted on each side.
	skew = 1
)

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// ErrEmptySecret is returned when verifying against an unset secret.
var ErrEmptySecret = errors.New("empty totp secret")

// GenerateSecret returns a fresh raw secret and its base32 form.
func GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, b32.EncodeToString(raw), nil
}

// EncodeSecret returns the base32 form of a raw secret.
func EncodeSecret(raw []byte) string { return b32.EncodeToString(raw) }

// ProvisionURI builds an otpauth:// URI for authenticator apps.
func ProvisionURI(issuer, account string, raw []byte) string {
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", EncodeSecret(raw))
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(period))
	v.Set("digits", strconv.Itoa(digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Code returns the code for the step containing t.
func Code(secret []byte, t time.Time) string {
	return hotp(secret, t.Unix()/period)
}

// Verify reports whether code matches the current step or one adjacent step.
func Verify(secret []byte, code string, now time.Time) (bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != digits || !numeric(code) {
		return false, nil
	}
	if len(secret) == 0 {
		return false, ErrEmptySecret
	}

	base := now.Unix() / period
	for step := int64(-skew); step <= skew; step++ {
		c := base + step
		if c < 0 {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(hotp(secret, c)), []byte(code)) == 1 {
			return true, nil
		}
	}
	return false, nil
}

func hotp(secret []byte, counter int64) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	return fmt.Sprintf("%0*d", digits, bin%1_000_000)
}

func numeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
