package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Signer holds one actor's ed25519 key pair.
type Signer struct {
	ActorID string
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
	KeyID   string
}

// NewSigner wraps an existing private key.
func NewSigner(actorID string, priv ed25519.PrivateKey) *Signer {
	pub := priv.Public().(ed25519.PublicKey)
	return &Signer{ActorID: actorID, Private: priv, Public: pub, KeyID: KeyID(pub)}
}

// GenerateSigner creates a fresh key pair for actorID.
func GenerateSigner(actorID string) (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return NewSigner(actorID, priv), nil
}

// LoadSigner reads an issuer's key pair from disk. Keys may be PEM (PKCS#8
// private, PKIX public) or raw base64; the public half must match.
func LoadSigner(actorID, privatePath, publicPath string) (*Signer, error) {
	privRaw, err := os.ReadFile(privatePath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	priv, err := ParsePrivateKey(string(privRaw))
	if err != nil {
		return nil, err
	}
	pubRaw, err := os.ReadFile(publicPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pub, err := ParsePublicKey(string(pubRaw))
	if err != nil {
		return nil, err
	}
	signer := NewSigner(actorID, priv)
	if !signer.Public.Equal(pub) {
		return nil, errors.New("public key does not match private key")
	}
	return signer, nil
}

// Sign returns the hex encoded ed25519 signature over payload.
func (s *Signer) Sign(payload []byte) string {
	return hex.EncodeToString(ed25519.Sign(s.Private, payload))
}

func Verify(pub ed25519.PublicKey, payload []byte, signature string) bool {
	sig, err := hex.DecodeString(signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, payload, sig)
}

func ParsePrivateKey(encoded string) (ed25519.PrivateKey, error) {
	if der, ok, err := pemBody(encoded, "private"); ok {
		if err != nil {
			return nil, err
		}
		parsed, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("parse pkcs8 private key: %w", err)
		}
		pk, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return nil, errors.New("private key is not ed25519")
		}
		return pk, nil
	}
	b, err := decodeLooseBase64(encoded)
	if err != nil {
		return nil, err
	}
	switch len(b) {
	case ed25519.SeedSize:
		return ed25519.NewKeyFromSeed(b), nil
	case ed25519.PrivateKeySize:
		return ed25519.PrivateKey(b), nil
	}
	return nil, fmt.Errorf("private key length %d invalid", len(b))
}

func ParsePublicKey(encoded string) (ed25519.PublicKey, error) {
	if der, ok, err := pemBody(encoded, "public"); ok {
		if err != nil {
			return nil, err
		}
		parsed, err := x509.ParsePKIXPublicKey(der)
		if err != nil {
			return nil, fmt.Errorf("parse public key pem: %w", err)
		}
		pk, ok := parsed.(ed25519.PublicKey)
		if !ok {
			return nil, errors.New("public key is not ed25519")
		}
		return pk, nil
	}
	b, err := decodeLooseBase64(encoded)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public key length %d invalid", len(b))
	}
	return ed25519.PublicKey(b), nil
}

// pemBody reports whether encoded is PEM and, if so, returns its DER body.
func pemBody(encoded, kind string) ([]byte, bool, error) {
	data := strings.TrimSpace(encoded)
	if !strings.HasPrefix(data, "-----BEGIN") {
		return nil, false, nil
	}
	block, _ := pem.Decode([]byte(data))
	if block == nil {
		return nil, true, fmt.Errorf("invalid %s key pem", kind)
	}
	return block.Bytes, true, nil
}

func decodeLooseBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.RawURLEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.StdEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, errors.New("key is not valid base64")
}

// KeyID is a short fingerprint of pub.
func KeyID(pub ed25519.PublicKey) string {
	h := sha256.Sum256(pub)
	return "ed25519:" + hex.EncodeToString(h[:8])
}
