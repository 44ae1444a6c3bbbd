package apikey

import "time"

// APIKey ключ доступа магазина. Хранится только bcrypt-хеш секретной части.
type APIKey struct {
	ID        int        `json:"id"`
	ShopID    string     `json:"shop_id"`
	Prefix    string     `json:"prefix"`
	Hash      string     `json:"-"`
	CreatedAt time.Time  `json:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
}

func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}
