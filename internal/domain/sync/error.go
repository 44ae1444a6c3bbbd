package sync

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated   = errors.New("unauthenticated: remote api key is not configured")
	ErrConflictDetected  = errors.New("conflict detected")
	ErrSyncInProgress    = errors.New("sync already in progress")
	ErrConflictResolved  = errors.New("conflict already resolved")
	ErrRecordNotFound    = errors.New("record not found")
	ErrConflictNotFound  = errors.New("conflict not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConfigNotFound    = errors.New("sync config not found")
)

// TransportError сетевая ошибка, таймаут, 5xx или 429. Повторяется в следующих циклах.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error: %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport error: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthenticationError удаленная сторона отклонила учетные данные (401/403)
type AuthenticationError struct {
	StatusCode int
	Message    string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: status %d: %s", e.StatusCode, e.Message)
}

// ConfigurationError ошибка конфигурации, например таблица без ресурса. Не повторяется.
type ConfigurationError struct {
	Table   string
	Message string
}

func (e *ConfigurationError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("configuration error: table %q: %s", e.Table, e.Message)
	}
	return "configuration error: " + e.Message
}

// ValidationError некорректные входные данные (локально или 400/422 от сервера)
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return "validation error: " + e.Message
}

// RemoteError прочие ответы сервера 4xx
type RemoteError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error: status %d: %s", e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// IsRetryable сообщает, имеет ли смысл повторить операцию позже
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsNetworkError ошибка уровня сети: запрос не дошел до сервера или ответ не получен.
// Ответ сервера с кодом ошибки сюда не относится.
func IsNetworkError(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.StatusCode == 0
}

// IsFatal сообщает, что повтор операции ничего не изменит
func IsFatal(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsAuthError ошибка учетных данных: ключ не задан или отклонен сервером
func IsAuthError(err error) bool {
	if errors.Is(err, ErrUnauthenticated) {
		return true
	}
	var ae *AuthenticationError
	return errors.As(err, &ae)
}
