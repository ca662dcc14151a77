package models

import "time"

// RefreshToken - сохранённый refresh-токен.
// В хранилище лежит только хэш строки токена (TokenHash); сам токен знает лишь клиент.
type RefreshToken struct {
	TokenHash string
	UserID    int64
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired сообщает, истёк ли токен к моменту now.
// Граница исключающая: ExpiresAt == now уже считается истёкшим.
func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
