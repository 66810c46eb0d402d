// Package sign implements the canonicalization and signature schemes shared
// by outbound request signing and inbound webhook verification. Each scheme
// is a pure function pair so the two directions can never drift apart.
package sign

import (
	"crypto"
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"sort"
	"strings"
)

var (
	ErrInvalidKey       = errors.New("invalid_key")
	ErrInvalidSignature = errors.New("invalid_signature")
)

// CanonicalValues sorts the parameter keys alphabetically and concatenates
// the values in that order, skipping empties. This is the canonical string
// both the checksum and RSA schemes operate on.
func CanonicalValues(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		if value := params[key]; value != "" {
			b.WriteString(value)
		}
	}
	return b.String()
}

// HMACSHA256Hex computes the hex HMAC-SHA256 of the raw payload.
func HMACSHA256Hex(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// HMACSHA256Base64 computes the base64 HMAC-SHA256 of the raw payload.
func HMACSHA256Base64(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyHMACSHA256 compares the supplied signature against the recomputed
// HMAC in constant time, accepting either encoding of the digest.
func VerifyHMACSHA256(payload []byte, secret, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	if constantTimeEqualFold(HMACSHA256Hex(payload, secret), signature) {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(HMACSHA256Base64(payload, secret)), []byte(signature)) == 1
}

// Checksum computes the MD5 checksum scheme used by form-encoded gateways:
// canonical values with the shared secret appended, uppercase hex digest.
func Checksum(params map[string]string, secret string) string {
	sum := md5.Sum([]byte(CanonicalValues(params) + secret))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// VerifyChecksum compares checksums case-insensitively in constant time.
func VerifyChecksum(params map[string]string, secret, supplied string) bool {
	if strings.TrimSpace(supplied) == "" {
		return false
	}
	return constantTimeEqualFold(Checksum(params, secret), supplied)
}

// RSASign signs the canonical parameter string with the integrator private
// key (PKCS#1 or PKCS#8 PEM) and returns the base64 signature.
func RSASign(params map[string]string, privateKeyPEM string) (string, error) {
	key, err := parsePrivateKey(privateKeyPEM)
	if err != nil {
		return "", err
	}
	digest := sha256.Sum256([]byte(CanonicalValues(params)))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// RSAVerify checks a base64 signature over the canonical parameter string
// against the provider public key.
func RSAVerify(params map[string]string, publicKeyPEM, signature string) error {
	key, err := parsePublicKey(publicKeyPEM)
	if err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(signature))
	if err != nil {
		return ErrInvalidSignature
	}
	digest := sha256.Sum256([]byte(CanonicalValues(params)))
	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], raw); err != nil {
		return ErrInvalidSignature
	}
	return nil
}

func parsePrivateKey(pemData string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, ErrInvalidKey
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, ErrInvalidKey
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return key, nil
}

func parsePublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, ErrInvalidKey
	}
	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, ErrInvalidKey
	}
	key, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// constantTimeEqualFold compares hex strings case-insensitively without
// leaking position information.
func constantTimeEqualFold(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(a)), []byte(strings.ToLower(b))) == 1
}
