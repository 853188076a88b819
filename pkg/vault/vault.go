package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	keySize    = 32
	iterations = 100000

	sealedPrefix = "v1$"
)

var (
	// ErrMalformed is returned when a sealed value cannot be parsed
	ErrMalformed = errors.New("vault: malformed sealed value")
	// ErrEmptyPassphrase is returned when no passphrase could be obtained
	ErrEmptyPassphrase = errors.New("vault: empty passphrase")
)

// Sealer encrypts session secrets before they reach storage
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Vault seals values with AES-GCM under a key derived from a passphrase with
// PBKDF2. Values sealed by one process share a salt, so the key is derived
// once per salt and cached.
//
// Sealed format: v1$<salt b64>$<nonce||ciphertext b64>
type Vault struct {
	passphrase []byte
	salt       []byte

	mu   sync.Mutex
	keys map[string][]byte
}

// New creates a Vault from a passphrase
func New(passphrase string) (*Vault, error) {
	if passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return &Vault{
		passphrase: []byte(passphrase),
		salt:       salt,
		keys:       make(map[string][]byte),
	}, nil
}

func (v *Vault) key(salt []byte) []byte {
	id := string(salt)
	v.mu.Lock()
	defer v.mu.Unlock()
	if k, ok := v.keys[id]; ok {
		return k
	}
	k := pbkdf2.Key(v.passphrase, salt, iterations, keySize, sha256.New)
	v.keys[id] = k
	return k
}

// Seal encrypts plaintext. The empty string seals to the empty string so
// that sessions without a stored password stay distinguishable.
func (v *Vault) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	ciphertext, err := encrypt([]byte(plaintext), v.key(v.salt))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt: %w", err)
	}
	return sealedPrefix +
		base64.RawStdEncoding.EncodeToString(v.salt) + "$" +
		base64.RawStdEncoding.EncodeToString(ciphertext), nil
}

// Open decrypts a value produced by Seal
func (v *Vault) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	rest, ok := strings.CutPrefix(sealed, sealedPrefix)
	if !ok {
		return "", ErrMalformed
	}
	saltPart, dataPart, ok := strings.Cut(rest, "$")
	if !ok {
		return "", ErrMalformed
	}
	salt, err := base64.RawStdEncoding.DecodeString(saltPart)
	if err != nil {
		return "", fmt.Errorf("%w: salt: %v", ErrMalformed, err)
	}
	data, err := base64.RawStdEncoding.DecodeString(dataPart)
	if err != nil {
		return "", fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}

	plaintext, err := decrypt(data, v.key(salt))
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

func encrypt(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func decrypt(ciphertext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, ciphertext, nil)
}

// PlainSealer stores values unchanged. It is meant for tests and for
// databases that are already encrypted at rest.
type PlainSealer struct{}

func (PlainSealer) Seal(plaintext string) (string, error) { return plaintext, nil }
func (PlainSealer) Open(sealed string) (string, error)    { return sealed, nil }
