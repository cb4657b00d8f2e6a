// Package vapid builds the signed tokens that identify this server to push
// services (RFC 8292).
package vapid

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTTL is how long a signed token stays valid.
const TokenTTL = 12 * time.Hour

// ErrInvalidKey is returned when the configured key material cannot be used.
var ErrInvalidKey = errors.New("invalid vapid key")

// Signer issues ES256 tokens for a fixed key pair. The parsed key is cached
// because the key material does not change during the process lifetime.
type Signer struct {
	key       *ecdsa.PrivateKey
	publicKey string
	subject   string
	now       func() time.Time
}

// NewSigner reconstructs the key pair from a base64url uncompressed P-256
// point (65 bytes) and a base64url raw scalar (32 bytes). The scalar must
// belong to the given public point.
func NewSigner(publicKey, privateKey, subject string) (*Signer, error) {
	key, err := ParseKeys(publicKey, privateKey)
	if err != nil {
		return nil, err
	}
	return &Signer{
		key:       key,
		publicKey: publicKey,
		subject:   subject,
		now:       time.Now,
	}, nil
}

// WithClock replaces the time source used for iat/exp.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	s.now = now
	return s
}

// PublicKey returns the base64url public key sent in the k= parameter.
func (s *Signer) PublicKey() string {
	return s.publicKey
}

// Token signs a token for the given audience (scheme and host of a push endpoint).
func (s *Signer) Token(audience string) (string, error) {
	if audience == "" {
		return "", errors.New("vapid token: empty audience")
	}
	iat := s.now().UTC()
	claims := jwt.MapClaims{
		"aud": audience,
		"exp": iat.Add(TokenTTL).Unix(),
		"iat": iat.Unix(),
		"sub": s.subject,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign vapid token: %w", err)
	}
	return signed, nil
}

// Authorization returns the Authorization header value for a push endpoint.
func (s *Signer) Authorization(endpoint string) (string, error) {
	aud, err := Audience(endpoint)
	if err != nil {
		return "", err
	}
	token, err := s.Token(aud)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("vapid t=%s, k=%s", token, s.publicKey), nil
}

// Audience derives the token audience ("scheme://host") from an endpoint URL.
func Audience(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint %q has no scheme or host", endpoint)
	}
	return u.Scheme + "://" + u.Host, nil
}

// ParseKeys decodes and cross-checks a raw VAPID key pair.
func ParseKeys(publicKey, privateKey string) (*ecdsa.PrivateKey, error) {
	pubBytes, err := DecodeKey(publicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrInvalidKey, err)
	}
	pub, err := ecdsa.ParseUncompressedPublicKey(elliptic.P256(), pubBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: public key: %v", ErrInvalidKey, err)
	}

	privBytes, err := DecodeKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrInvalidKey, err)
	}
	priv, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), privBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: private key: %v", ErrInvalidKey, err)
	}

	if !priv.PublicKey.Equal(pub) {
		return nil, fmt.Errorf("%w: private key does not match public key", ErrInvalidKey)
	}
	return priv, nil
}

// DecodeKey accepts base64url (with or without padding) and standard base64,
// the encodings browsers and key tools emit.
func DecodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("empty key")
	}
	s = strings.TrimRight(s, "=")
	if strings.ContainsAny(s, "+/") {
		return base64.RawStdEncoding.DecodeString(s)
	}
	return base64.RawURLEncoding.DecodeString(s)
}

// GenerateKeys generates a new ECDSA P-256 key pair for VAPID.
func GenerateKeys() (publicKey, privateKey string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate ECDSA key: %w", err)
	}

	pubBytes, err := key.PublicKey.Bytes()
	if err != nil {
		return "", "", fmt.Errorf("encode public key: %w", err)
	}
	privBytes, err := key.Bytes()
	if err != nil {
		return "", "", fmt.Errorf("encode private key: %w", err)
	}

	publicKey = base64.RawURLEncoding.EncodeToString(pubBytes)
	privateKey = base64.RawURLEncoding.EncodeToString(privBytes)
	return publicKey, privateKey, nil
}
