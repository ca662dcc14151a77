package service

import (
	"errors"
	"fmt"
)

// Kind - типизированная причина отказа. Текст для клиента формирует транспорт
// по Kind, внутри сервиса строки ошибок не сравниваются.
type Kind uint8

const (
	// KindUnknown - ошибка без вида (хранилище недоступно, кодек сломан). Транспорт: 500.
	KindUnknown Kind = iota
	// KindEmailInUse - email уже зарегистрирован. Транспорт: 409.
	KindEmailInUse
	// KindInvalidCredentials - пользователь не найден ИЛИ пароль неверен; причины не различаются.
	KindInvalidCredentials
	// KindTokenInvalid - refresh-токен с неверной подписью/форматом или чужой записью.
	KindTokenInvalid
	// KindTokenNotFound - записи refresh-токена нет в хранилище.
	KindTokenNotFound
	// KindTokenExpired - запись refresh-токена истекла (и удалена).
	KindTokenExpired
	// KindAccessTokenInvalid - access-токен повреждён, подделан или истёк.
	KindAccessTokenInvalid
	// KindTokenSuperseded - версия в access-токене устарела: был выполнен новый вход.
	KindTokenSuperseded
	// KindUserNotFound - пользователь из токена не существует.
	KindUserNotFound
)

var kindNames = map[Kind]string{
	KindUnknown:            "unknown",
	KindEmailInUse:         "email_in_use",
	KindInvalidCredentials: "invalid_credentials",
	KindTokenInvalid:       "token_invalid",
	KindTokenNotFound:      "token_not_found",
	KindTokenExpired:       "token_expired",
	KindAccessTokenInvalid: "access_token_invalid",
	KindTokenSuperseded:    "token_superseded",
	KindUserNotFound:       "user_not_found",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}

	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Class - укрупнённая категория ошибки для транспорта.
type Class uint8

const (
	ClassInternal Class = iota
	ClassConflict
	ClassUnauthenticated
)

// Class возвращает категорию вида.
func (k Kind) Class() Class {
	switch k {
	case KindEmailInUse:
		return ClassConflict
	case KindInvalidCredentials,
		KindTokenInvalid,
		KindTokenNotFound,
		KindTokenExpired,
		KindAccessTokenInvalid,
		KindTokenSuperseded,
		KindUserNotFound:
		return ClassUnauthenticated
	default:
		return ClassInternal
	}
}

// Error - ошибка сервиса с видом. Err - исходная причина (может быть nil).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return e.Op + ": " + e.Kind.String()
	case e.Err != nil:
		return e.Kind.String() + ": " + e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is сравнивает по Kind, чтобы работал errors.Is(err, ErrTokenExpired).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	return t.Kind == e.Kind
}

// Образцы для errors.Is.
var (
	ErrEmailInUse         = &Error{Kind: KindEmailInUse}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrTokenInvalid       = &Error{Kind: KindTokenInvalid}
	ErrTokenNotFound      = &Error{Kind: KindTokenNotFound}
	ErrTokenExpired       = &Error{Kind: KindTokenExpired}
	ErrAccessTokenInvalid = &Error{Kind: KindAccessTokenInvalid}
	ErrTokenSuperseded    = &Error{Kind: KindTokenSuperseded}
	ErrUserNotFound       = &Error{Kind: KindUserNotFound}
)

// KindOf извлекает вид из цепочки ошибок; KindUnknown, если вида нет.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

// ClassOf - сокращение для KindOf(err).Class().
func ClassOf(err error) Class {
	return KindOf(err).Class()
}

func fail(op string, kind Kind, cause error) error {
	return &Error{Kind: kind, Op: op, Err: cause}
}
