package resource

import (
	"errors"
)

var (
	ErrNotFound    = errors.New("resource not found")
	ErrUnknownKind = errors.New("unknown resource kind")
	ErrInvalidData = errors.New("invalid resource data")
	// ErrExists живая запись с таким id уже есть (уровень репозитория)
	ErrExists = errors.New("resource already exists")
	// ErrConflict повторное создание с другими данными
	ErrConflict = errors.New("resource exists with different data")
)
