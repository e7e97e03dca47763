package store

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/scrypt"
)

const (
	sealVersion  = 1
	saltSize     = 32
	keySize      = 32
	scryptR      = 8
	scryptP      = 1
	defaultCostN = 32768
)

// ErrSealCorrupt is returned when a sealed document fails authentication.
var ErrSealCorrupt = errors.New("sealed document corrupt or wrong passphrase")

// sealedDocument is the on-disk envelope for an encrypted tier.
type sealedDocument struct {
	Version    uint8  `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// Sealer encrypts tier documents with AES-256-GCM under a key derived
// from a passphrase with scrypt. Derived keys are cached per salt.
type Sealer struct {
	passphrase []byte
	costN      int

	mu   sync.Mutex
	salt []byte
	keys map[string]cipher.AEAD
}

// NewSealer returns a Sealer with the default scrypt cost.
func NewSealer(passphrase string) *Sealer {
	return NewSealerWithCost(passphrase, defaultCostN)
}

// NewSealerWithCost sets the scrypt N parameter, which must be a power of two.
func NewSealerWithCost(passphrase string, n int) *Sealer {
	return &Sealer{
		passphrase: []byte(passphrase),
		costN:      n,
		keys:       make(map[string]cipher.AEAD),
	}
}

// Seal encrypts plaintext into a JSON envelope.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	if s.salt == nil {
		salt := make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("generate salt: %w", err)
		}
		s.salt = salt
	}
	salt := s.salt
	aead, err := s.aeadLocked(salt)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return json.Marshal(sealedDocument{
		Version:    sealVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, []byte{sealVersion}),
	})
}

// Open decrypts an envelope produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	var doc sealedDocument
	if err := json.Unmarshal(sealed, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealCorrupt, err)
	}
	if doc.Version != sealVersion {
		return nil, fmt.Errorf("unsupported seal version %d", doc.Version)
	}
	if len(doc.Salt) != saltSize {
		return nil, ErrSealCorrupt
	}

	s.mu.Lock()
	aead, err := s.aeadLocked(doc.Salt)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(doc.Nonce) != aead.NonceSize() {
		return nil, ErrSealCorrupt
	}

	plaintext, err := aead.Open(nil, doc.Nonce, doc.Ciphertext, []byte{doc.Version})
	if err != nil {
		return nil, ErrSealCorrupt
	}
	return plaintext, nil
}

func (s *Sealer) aeadLocked(salt []byte) (cipher.AEAD, error) {
	if aead, ok := s.keys[string(salt)]; ok {
		return aead, nil
	}

	key, err := scrypt.Key(s.passphrase, salt, s.costN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	clear(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	s.keys[string(salt)] = aead
	return aead, nil
}
