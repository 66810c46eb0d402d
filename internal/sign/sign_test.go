package sign

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
)

func TestCanonicalValuesSortsByKey(t *testing.T) {
	params := map[string]string{
		"MIN":      "M-1001",
		"AMOUNT":   "12.50",
		"INVOICE":  "INV-42",
		"CURRENCY": "BGN",
		"EMPTY":    "",
	}
	// AMOUNT, CURRENCY, EMPTY, INVOICE, MIN
	want := "12.50BGNINV-42M-1001"
	if got := CanonicalValues(params); got != want {
		t.Fatalf("canonical string %q, want %q", got, want)
	}
}

func TestChecksumSymmetry(t *testing.T) {
	params := map[string]string{"INVOICE": "INV-42", "AMOUNT": "12.50", "STATUS": "PAID"}
	sum := Checksum(params, "s3cret")
	if !VerifyChecksum(params, "s3cret", sum) {
		t.Fatalf("checksum did not verify against itself")
	}
	// Case-insensitive comparison is part of the wire contract.
	if !VerifyChecksum(params, "s3cret", lower(sum)) {
		t.Fatalf("lowercase checksum should verify")
	}
	if VerifyChecksum(params, "wrong", sum) {
		t.Fatalf("checksum verified with wrong secret")
	}
	if VerifyChecksum(params, "s3cret", "") {
		t.Fatalf("empty checksum should not verify")
	}
}

func TestHMACSHA256BothEncodings(t *testing.T) {
	payload := []byte(`{"id":"evt_1"}`)
	hexSig := HMACSHA256Hex(payload, "whsec")
	b64Sig := HMACSHA256Base64(payload, "whsec")

	if !VerifyHMACSHA256(payload, "whsec", hexSig) {
		t.Fatalf("hex signature should verify")
	}
	if !VerifyHMACSHA256(payload, "whsec", b64Sig) {
		t.Fatalf("base64 signature should verify")
	}
	if VerifyHMACSHA256(payload, "whsec", hexSig[:len(hexSig)-2]+"00") {
		t.Fatalf("tampered signature should not verify")
	}
}

func TestRSASignVerifySymmetry(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	privPEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))
	pubPEM := string(pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey),
	}))

	params := map[string]string{
		"SID":          "000000000000010",
		"Amount":       "23.45",
		"Currency":     "EUR",
		"OrderID":      "ORDER-77",
		"WalletNumber": "61938166610",
	}

	sig, err := RSASign(params, privPEM)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := RSAVerify(params, pubPEM, sig); err != nil {
		t.Fatalf("verify: %v", err)
	}

	params["Amount"] = "99.99"
	if err := RSAVerify(params, pubPEM, sig); err == nil {
		t.Fatalf("verify should fail after parameter tampering")
	}
}

func lower(s string) string {
	out := []byte(s)
	for i := range out {
		if out[i] >= 'A' && out[i] <= 'Z' {
			out[i] += 'a' - 'A'
		}
	}
	return string(out)
}
