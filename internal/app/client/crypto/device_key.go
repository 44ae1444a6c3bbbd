package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	deviceKeySize        = 32
	deviceKeyPermissions = 0600
)

// LoadOrCreateDeviceKey читает ключ устройства из path или создает новый.
// Файл доступен только владельцу.
func LoadOrCreateDeviceKey(path string) ([]byte, error) {
	key, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(key) != deviceKeySize {
			return nil, fmt.Errorf("файл ключа %s поврежден: %d байт", path, len(key))
		}
		return key, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("ошибка чтения файла ключа: %w", err)
	}

	key, err = GenerateRandomBytes(deviceKeySize)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("ошибка создания каталога ключа: %w", err)
	}
	// O_EXCL: второй процесс не перезапишет уже созданный ключ
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, deviceKeyPermissions)
	if errors.Is(err, fs.ErrExist) {
		return LoadOrCreateDeviceKey(path)
	}
	if err != nil {
		return nil, fmt.Errorf("ошибка создания файла ключа: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(key); err != nil {
		return nil, fmt.Errorf("ошибка записи файла ключа: %w", err)
	}
	return key, nil
}

// GenerateRandomBytes генерирует криптографически безопасные случайные байты
func GenerateRandomBytes(size int) ([]byte, error) {
	b := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}

// ClearMemory затирает чувствительные данные
func ClearMemory(data []byte) {
	for i := range data {
		data[i] = 0
	}
}
