package models

import "time"

// Session - результат успешного входа.
//
// Описание:
//   - AccessToken - короткоживущий JWT с версией токенов пользователя;
//   - RefreshToken - долгоживущий JWT, подкреплённый записью в хранилище;
//   - AccessExpiresAt - момент истечения access-токена (UTC).
type Session struct {
	AccessToken     string
	RefreshToken    string
	AccessExpiresAt time.Time
	User            PublicUser
}

// AccessGrant - результат обновления access-токена по refresh-токену.
// Refresh-токен не ротируется, поэтому в ответе его нет.
type AccessGrant struct {
	AccessToken     string
	AccessExpiresAt time.Time
	User            PublicUser
}
