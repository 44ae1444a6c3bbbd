package crypto

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

	"golang.org/x/crypto/hkdf"
)

// sealedPrefix метка зашифрованного значения в базе
const sealedPrefix = "enc:v1:"

var hkdfInfo = []byte("shopsync sync_config secrets v1")

var ErrSealed = errors.New("value is sealed with another device key")

// Box шифрует секреты настроек (API-ключ) ключом устройства, AES-256-GCM
type Box struct {
	aead cipher.AEAD
}

// NewBox выводит ключ шифрования из ключа устройства через HKDF-SHA256
func NewBox(deviceKey []byte) (*Box, error) {
	if len(deviceKey) < deviceKeySize {
		return nil, fmt.Errorf("ключ устройства слишком короткий: %d байт", len(deviceKey))
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, deviceKey, nil, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("ошибка вывода ключа: %w", err)
	}
	defer ClearMemory(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания GCM: %w", err)
	}
	return &Box{aead: aead}, nil
}

// Seal шифрует строку. Пустая строка остается пустой.
func (b *Box) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, b.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("ошибка генерации nonce: %w", err)
	}

	sealed := b.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(sealed), nil
}

// Open расшифровывает значение из Seal. Незашифрованное значение возвращается как есть.
func (b *Box) Open(value string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}

	data, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("ошибка декодирования: %w", err)
	}

	n := b.aead.NonceSize()
	if len(data) < n {
		return "", fmt.Errorf("шифротекст слишком короткий")
	}

	plaintext, err := b.aead.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return "", ErrSealed
	}
	return string(plaintext), nil
}

// IsSealed значение зашифровано Box
func IsSealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}
