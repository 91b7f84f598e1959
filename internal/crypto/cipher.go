// Package crypto encrypts and decrypts property values of the form
// ENC[AES256:<base64>] so secrets can live in committed property files.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/argon2"

	"github.com/melih-ucgun/autoconfig/internal/consts"
)

const (
	Prefix = "ENC[AES256:"
	Suffix = "]"
)

// ErrNoMasterKey is returned when neither the environment nor the key file
// provides a master key.
var ErrNoMasterKey = errors.New("master key not found")

// passphraseSalt is fixed so a passphrase always derives the same key.
var passphraseSalt = []byte("autoconfig/property-values")

// GenerateKey generates a random 32-byte key and returns it as a hex string.
func GenerateKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

// Cipher seals and opens property values with AES-256-GCM.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher accepts a 64 character hex key or, failing that, any
// passphrase, which is stretched with argon2id.
func NewCipher(master string) (*Cipher, error) {
	master = strings.TrimSpace(master)
	if master == "" {
		return nil, ErrNoMasterKey
	}
	key, err := hex.DecodeString(master)
	if err != nil || len(key) != 32 {
		key = argon2.IDKey([]byte(master), passphraseSalt, 1, 64*1024, 4, 32)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: gcm}, nil
}

// Encrypt returns ENC[AES256:<base64(nonce|ciphertext)>].
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return Prefix + base64.StdEncoding.EncodeToString(sealed) + Suffix, nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(encrypted string) (string, error) {
	if !IsEncrypted(encrypted) {
		return "", errors.New("invalid encrypted format")
	}
	b64 := encrypted[len(Prefix) : len(encrypted)-len(Suffix)]
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}

	nonceSize := c.aead.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// IsEncrypted checks if a string follows the encrypted format.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, Prefix) && strings.HasSuffix(s, Suffix)
}

// LoadMasterKey reads the key from AUTOCONFIG_MASTER_KEY, then from the key
// file under the autoconfig home directory.
func LoadMasterKey() (string, error) {
	if key := os.Getenv(consts.EnvMasterKey); key != "" {
		return strings.TrimSpace(key), nil
	}
	keyPath, err := consts.GetMasterKeyPath()
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(keyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNoMasterKey
		}
		return "", err
	}
	return strings.TrimSpace(string(content)), nil
}
