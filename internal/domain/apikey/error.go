package apikey

import "errors"

var (
	ErrNotFound   = errors.New("api key not found")
	ErrInvalidKey = errors.New("invalid api key")
	ErrRevoked    = errors.New("api key revoked")
	ErrEmptyShop  = errors.New("shop id is required")
)
