package models

import "time"

// User - учётная запись в хранилище.
// TokenVersion увеличивается ровно на единицу при каждом успешном входе
// и никогда не уменьшается.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	TokenVersion int64
	CreatedAt    time.Time
}

// Public возвращает публичную проекцию пользователя (без хэша и версии).
func (u *User) Public() PublicUser {
	return PublicUser{
		ID:    u.ID,
		Name:  u.Name,
		Email: u.Email,
	}
}

// PublicUser - данные пользователя, которые можно отдавать клиенту.
type PublicUser struct {
	ID    int64
	Name  string
	Email string
}

// UserInfo - профиль аутентифицированного пользователя.
type UserInfo struct {
	ID        int64
	Name      string
	Email     string
	CreatedAt time.Time
}

// Identity - результат успешной проверки access-токена.
type Identity struct {
	UserID int64
	Email  string
	Name   string
}
