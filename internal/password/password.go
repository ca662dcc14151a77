// password - хэширование и проверка паролей через bcrypt.
package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// dummyPassword хэшируется один раз при создании Bcrypt и используется
// для сравнения, когда пользователь не найден.
const dummyPassword = "taskboard-auth-dummy-password"

// Bcrypt реализует хэширование паролей с фиксированной стоимостью.
type Bcrypt struct {
	cost  int
	dummy []byte
}

// New создаёт хэшер. Стоимость проверяется bcrypt.
func New(cost int) (*Bcrypt, error) {
	const op = "password.New"

	dummy, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), cost)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Bcrypt{cost: cost, dummy: dummy}, nil
}

// Hash возвращает bcrypt-хэш пароля.
func (b *Bcrypt) Hash(password string) (string, error) {
	const op = "password.Hash"

	h, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	return string(h), nil
}

// Compare сообщает, соответствует ли пароль хэшу.
// Несовпадение - (false, nil); повреждённый хэш - ошибка.
func (b *Bcrypt) Compare(hash, password string) (bool, error) {
	const op = "password.Compare"

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("%s: %w", op, err)
	}
}

// CompareDummy тратит столько же времени, сколько Compare, и всегда
// возвращает false. Вход с неизвестным email не отличается по времени.
func (b *Bcrypt) CompareDummy(password string) bool {
	_ = bcrypt.CompareHashAndPassword(b.dummy, []byte(password))
	return false
}
