package crypto

import (
	"context"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	ErrKeyUnavailable = errors.New("signing key unavailable")
	ErrKeyExists      = errors.New("signing key already exists")
)

// KeyStore maps actor ids to signing keys. When opened with a path, key
// seeds are sealed with XChaCha20-Poly1305 under the master key and
// persisted on every change.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[string]*Signer
	path string
	aead cipher.AEAD
}

type sealedKey struct {
	ActorID    string `json:"actor_id"`
	KeyID      string `json:"key_id"`
	PublicKey  string `json:"public_key"`
	Nonce      string `json:"nonce"`
	SealedSeed string `json:"sealed_seed"`
}

type keyFile struct {
	Version int         `json:"version"`
	Keys    []sealedKey `json:"keys"`
}

func NewMemoryKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[string]*Signer)}
}

func OpenKeyStore(path string, masterKey []byte) (*KeyStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("keystore path is required")
	}
	aead, err := chacha20poly1305.NewX(masterKey)
	if err != nil {
		return nil, fmt.Errorf("keystore cipher: %w", err)
	}
	ks := &KeyStore{keys: make(map[string]*Signer), path: path, aead: aead}
	buf, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ks, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	var file keyFile
	if err := json.Unmarshal(buf, &file); err != nil {
		return nil, fmt.Errorf("decode keystore: %w", err)
	}
	for _, sk := range file.Keys {
		signer, err := ks.open(sk)
		if err != nil {
			return nil, fmt.Errorf("unseal key for %s: %w", sk.ActorID, err)
		}
		ks.keys[sk.ActorID] = signer
	}
	return ks, nil
}

// ParseMasterKey accepts a 32-byte key in hex or base64.
func ParseMasterKey(encoded string) ([]byte, error) {
	encoded = strings.TrimSpace(encoded)
	if b, err := hex.DecodeString(encoded); err == nil && len(b) == chacha20poly1305.KeySize {
		return b, nil
	}
	b, err := decodeLooseBase64(encoded)
	if err != nil {
		return nil, errors.New("master key must be hex or base64")
	}
	if len(b) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("master key length %d invalid", len(b))
	}
	return b, nil
}

// Generate creates and stores a new key for actorID. It never replaces an
// existing key.
func (k *KeyStore) Generate(actorID string) (*Signer, error) {
	signer, err := GenerateSigner(actorID)
	if err != nil {
		return nil, err
	}
	if err := k.Import(signer); err != nil {
		return nil, err
	}
	return signer, nil
}

func (k *KeyStore) Import(signer *Signer) error {
	if signer == nil || strings.TrimSpace(signer.ActorID) == "" {
		return errors.New("signer actor id is required")
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.keys[signer.ActorID]; ok {
		return fmt.Errorf("%w: %s", ErrKeyExists, signer.ActorID)
	}
	k.keys[signer.ActorID] = signer
	if err := k.persistLocked(); err != nil {
		delete(k.keys, signer.ActorID)
		return err
	}
	return nil
}

func (k *KeyStore) Lookup(actorID string) (*Signer, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	s, ok := k.keys[actorID]
	return s, ok
}

func (k *KeyStore) PublicKey(actorID string) (ed25519.PublicKey, bool) {
	s, ok := k.Lookup(actorID)
	if !ok {
		return nil, false
	}
	return s.Public, true
}

func (k *KeyStore) Actors() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.keys))
	for id := range k.keys {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Sign signs message with the key registered for signerID.
func (k *KeyStore) Sign(ctx context.Context, signerID string, message []byte) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	s, ok := k.Lookup(signerID)
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrKeyUnavailable, signerID)
	}
	return s.Sign(message), s.KeyID, nil
}

func (k *KeyStore) persistLocked() error {
	if k.path == "" {
		return nil
	}
	ids := make([]string, 0, len(k.keys))
	for id := range k.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	file := keyFile{Version: 1, Keys: make([]sealedKey, 0, len(ids))}
	for _, id := range ids {
		sk, err := k.seal(k.keys[id])
		if err != nil {
			return err
		}
		file.Keys = append(file.Keys, sk)
	}
	buf, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode keystore: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(k.path), 0o700); err != nil {
		return fmt.Errorf("create keystore dir: %w", err)
	}
	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0o600); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	if err := os.Rename(tmp, k.path); err != nil {
		return fmt.Errorf("replace keystore: %w", err)
	}
	return nil
}

func (k *KeyStore) seal(s *Signer) (sealedKey, error) {
	nonce := make([]byte, k.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return sealedKey{}, fmt.Errorf("keystore nonce: %w", err)
	}
	sealed := k.aead.Seal(nil, nonce, s.Private.Seed(), []byte(s.ActorID))
	return sealedKey{
		ActorID:    s.ActorID,
		KeyID:      s.KeyID,
		PublicKey:  base64.StdEncoding.EncodeToString(s.Public),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		SealedSeed: base64.StdEncoding.EncodeToString(sealed),
	}, nil
}

func (k *KeyStore) open(sk sealedKey) (*Signer, error) {
	nonce, err := base64.StdEncoding.DecodeString(sk.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(sk.SealedSeed)
	if err != nil {
		return nil, fmt.Errorf("decode sealed seed: %w", err)
	}
	seed, err := k.aead.Open(nil, nonce, sealed, []byte(sk.ActorID))
	if err != nil {
		return nil, errors.New("wrong master key or corrupted keystore")
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("seed length %d invalid", len(seed))
	}
	signer := NewSigner(sk.ActorID, ed25519.NewKeyFromSeed(seed))
	if sk.KeyID != "" && sk.KeyID != signer.KeyID {
		return nil, errors.New("key id mismatch")
	}
	return signer, nil
}
