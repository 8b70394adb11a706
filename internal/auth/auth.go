package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

// ChallengeSize is the number of random bytes in an authentication challenge.
const ChallengeSize = 32

// signatureSize is the length of an IEEE P1363 encoded P-256 signature: r and s, 32 bytes each.
const signatureSize = 64

// Sentinel errors for the auth package.
var (
	ErrInvalidPublicKey = errors.New("public key must be a base64 SPKI-encoded P-256 key")
	ErrInvalidSignature = errors.New("signature verification failed")
	ErrChallengeFormat  = errors.New("challenge must be base64 encoded")
)

// NewChallenge generates a random challenge and returns it base64 encoded, the form it travels to the client in.
func NewChallenge() (string, error) {
	buf := make([]byte, ChallengeSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate challenge: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// ParsePublicKey decodes a base64 SPKI public key and requires it to be ECDSA on P-256. The normalized base64 of the
// DER bytes doubles as the user's stable identity string.
func ParsePublicKey(encoded string) (*ecdsa.PublicKey, string, error) {
	der, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", ErrInvalidPublicKey
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, "", ErrInvalidPublicKey
	}
	key, ok := parsed.(*ecdsa.PublicKey)
	if !ok || key.Curve != elliptic.P256() {
		return nil, "", ErrInvalidPublicKey
	}
	return key, base64.StdEncoding.EncodeToString(der), nil
}

// VerifyChallenge checks an IEEE P1363 (r || s) signature over SHA-256 of the challenge's raw bytes. The challenge
// travels base64 encoded; the signature arrives hex encoded.
func VerifyChallenge(key *ecdsa.PublicKey, challenge, signature string) error {
	raw, err := base64.StdEncoding.DecodeString(challenge)
	if err != nil {
		return ErrChallengeFormat
	}
	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != signatureSize {
		return ErrInvalidSignature
	}

	digest := sha256.Sum256(raw)
	r := new(big.Int).SetBytes(sig[:signatureSize/2])
	s := new(big.Int).SetBytes(sig[signatureSize/2:])
	if !ecdsa.Verify(key, digest[:], r, s) {
		return ErrInvalidSignature
	}
	return nil
}

// VerifyAdminKey compares a submitted admin key in constant time.
func VerifyAdminKey(submitted, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(expected)) == 1
}

// NewAdminKey generates the per-process admin key.
func NewAdminKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate admin key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
