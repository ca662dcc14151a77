package handlers

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	apierrors "github.com/pribylovaa/taskboard-auth/internal/errors"
)

// Ограничение bcrypt: байты после 72-го не участвуют в хэше.
const maxPasswordBytes = 72

// fieldErrors накапливает ошибки полей в порядке проверок.
type fieldErrors []apierrors.FieldError

func (fe *fieldErrors) add(field, msg string) {
	*fe = append(*fe, apierrors.FieldError{Field: field, Message: msg})
}

func validateRegister(req registerRequest) fieldErrors {
	var fe fieldErrors

	// Однобуквенные имена допустимы; пустое (после обрезки пробелов) нет.
	if strings.TrimSpace(req.Name) == "" {
		fe.add("name", "Nome é obrigatório")
	}

	validateEmailField(&fe, req.Email)

	pw := req.Password
	if pw == "" {
		fe.add("password", "Senha é obrigatória")
	}
	if utf8.RuneCountInString(pw) < 8 {
		fe.add("password", "Senha deve ter no mínimo 8 caracteres")
	}
	if len(pw) > maxPasswordBytes {
		fe.add("password", "Senha deve ter no máximo 72 bytes")
	}
	if !strings.ContainsFunc(pw, isUpper) {
		fe.add("password", "Senha deve conter pelo menos uma letra maiúscula")
	}
	if !strings.ContainsFunc(pw, isLower) {
		fe.add("password", "Senha deve conter pelo menos uma letra minúscula")
	}
	if !strings.ContainsFunc(pw, isDigit) {
		fe.add("password", "Senha deve conter pelo menos um número")
	}
	if !strings.ContainsFunc(pw, isSpecial) {
		fe.add("password", "Senha deve conter pelo menos um caractere especial")
	}

	return fe
}

func validateLogin(req loginRequest) fieldErrors {
	var fe fieldErrors

	validateEmailField(&fe, req.Email)

	if req.Password == "" {
		fe.add("password", "Senha é obrigatória")
	}

	return fe
}

func validateRefresh(req refreshRequest) fieldErrors {
	var fe fieldErrors

	if strings.TrimSpace(req.RefreshToken) == "" {
		fe.add("refreshToken", "Refresh token é obrigatório")
	}

	return fe
}

func validateEmailField(fe *fieldErrors, raw string) {
	email := strings.TrimSpace(raw)
	if email == "" {
		fe.add("email", "Email é obrigatório")
	}
	if !isEmail(email) {
		fe.add("email", "Email inválido")
	}
}

// isEmail принимает только голый адрес local@domain, без имени и угловых скобок.
func isEmail(s string) bool {
	if s == "" || strings.ContainsAny(s, " <>") {
		return false
	}

	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}

	at := strings.LastIndexByte(s, '@')
	return at > 0 && strings.Contains(s[at+1:], ".")
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }

func isLower(r rune) bool { return r >= 'a' && r <= 'z' }

func isDigit(r rune) bool { return r >= '0' && r <= '9' }

func isSpecial(r rune) bool { return !isUpper(r) && !isLower(r) && !isDigit(r) }
