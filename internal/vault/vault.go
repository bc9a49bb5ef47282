package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// Vault encrypts backend credentials at rest with AES-256-GCM under a
// passphrase-derived key.
type Vault struct {
	key [32]byte
}

// New derives the AES key from the passphrase via Argon2id. The salt is
// deterministic (SHA-256 of the passphrase) so the same passphrase yields
// the same key across restarts.
func New(passphrase string) *Vault {
	salt := sha256.Sum256([]byte(passphrase))
	key := argon2.IDKey([]byte(passphrase), salt[:16], 1, 64*1024, 4, 32)

	v := &Vault{}
	copy(v.key[:], key)
	return v
}

// Seal encrypts plaintext with a fresh random nonce. Ciphertext and nonce
// are returned separately; the store keeps both columns.
func (v *Vault) Seal(plaintext []byte) (ciphertext, nonce []byte, err error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generate nonce: %w", err)
	}

	return gcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Open decrypts a ciphertext/nonce pair. A wrong passphrase surfaces as an
// authentication failure, not garbage plaintext.
func (v *Vault) Open(ciphertext, nonce []byte) ([]byte, error) {
	gcm, err := v.gcm()
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

func (v *Vault) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
