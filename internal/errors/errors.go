// errors стандартизирует ответы об ошибках HTTP API.
// На вход принимает ошибку сервиса, на выход даёт:
//   - HTTP-статус по service.Kind;
//   - текст для клиента, выбранный по виду ошибки, а не по строке ошибки.
//
// Внутренние ошибки (без вида) не раскрываются: клиент получает
// заданное маршрутом сообщение и статус 500.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/pribylovaa/taskboard-auth/internal/service"
)

// Нестандартный код часто используемый для "клиент закрыл соединение".
const StatusClientClosedRequest = 499

// Сообщения для клиента.
const (
	MsgInvalidData        = "Dados inválidos"
	MsgEmailInUse         = "Email já está em uso"
	MsgInvalidCredentials = "Email ou senha inválidos"
	MsgRefreshInvalid     = "Refresh token inválido"
	MsgRefreshNotFound    = "Refresh token não encontrado"
	MsgRefreshExpired     = "Refresh token expirado"
	MsgAccessInvalid      = "Token inválido"
	MsgTokenSuperseded    = "Token inválido. Um novo login foi realizado."
	MsgUserNotFound       = "Usuário não encontrado"
	MsgTokenMissing       = "Token não fornecido"
	MsgTimeout            = "Tempo limite da requisição excedido"
	MsgInternal           = "Erro interno do servidor"
)

// FieldError - ошибка валидации одного поля запроса.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ErrorResponse - единый формат ответа об ошибке.
// RequestID прокидывается из X-Request-Id, если он есть.
type ErrorResponse struct {
	Error     string       `json:"error"`
	Details   []FieldError `json:"details,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
}

// ToHTTP конвертирует ошибку сервиса в HTTP-статус и тело ответа.
// internalMsg используется для ошибок без вида.
//
// Поведение:
//   - err == nil - программная ошибка вызова: 500, чтобы не маскировать баг;
//   - context.DeadlineExceeded - 504, context.Canceled - 499;
//   - ошибка с Kind - статус и текст по таблице kindToHTTP;
//   - прочее - 500 с internalMsg.
func ToHTTP(err error, internalMsg string) (int, ErrorResponse) {
	if internalMsg == "" {
		internalMsg = MsgInternal
	}

	if err == nil {
		return http.StatusInternalServerError, ErrorResponse{Error: internalMsg}
	}

	kind := service.KindOf(err)
	if kind == service.KindUnknown {
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return http.StatusGatewayTimeout, ErrorResponse{Error: MsgTimeout}
		case errors.Is(err, context.Canceled):
			return StatusClientClosedRequest, ErrorResponse{Error: MsgInternal}
		}

		return http.StatusInternalServerError, ErrorResponse{Error: internalMsg}
	}

	status, msg := kindToHTTP(kind)
	if status == http.StatusInternalServerError {
		msg = internalMsg
	}

	return status, ErrorResponse{Error: msg}
}

// kindToHTTP - базовый маппинг вида ошибки в статус и сообщение.
func kindToHTTP(k service.Kind) (int, string) {
	switch k {
	case service.KindEmailInUse:
		return http.StatusConflict, MsgEmailInUse
	case service.KindInvalidCredentials:
		return http.StatusUnauthorized, MsgInvalidCredentials
	case service.KindTokenInvalid:
		return http.StatusUnauthorized, MsgRefreshInvalid
	case service.KindTokenNotFound:
		return http.StatusUnauthorized, MsgRefreshNotFound
	case service.KindTokenExpired:
		return http.StatusUnauthorized, MsgRefreshExpired
	case service.KindAccessTokenInvalid:
		return http.StatusUnauthorized, MsgAccessInvalid
	case service.KindTokenSuperseded:
		return http.StatusUnauthorized, MsgTokenSuperseded
	case service.KindUserNotFound:
		return http.StatusUnauthorized, MsgUserNotFound
	}

	switch k.Class() {
	case service.ClassConflict:
		return http.StatusConflict, MsgInternal
	case service.ClassUnauthenticated:
		return http.StatusUnauthorized, MsgAccessInvalid
	default:
		return http.StatusInternalServerError, MsgInternal
	}
}

// WriteError пишет ответ об ошибке сервиса.
func WriteError(w http.ResponseWriter, r *http.Request, err error, internalMsg string) {
	status, resp := ToHTTP(err, internalMsg)
	Write(w, r, status, resp)
}

// WriteValidation пишет 400 с перечнем ошибок полей.
func WriteValidation(w http.ResponseWriter, r *http.Request, details []FieldError) {
	Write(w, r, http.StatusBadRequest, ErrorResponse{Error: MsgInvalidData, Details: details})
}

// WriteMessage пишет ответ об ошибке с готовым сообщением.
func WriteMessage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	Write(w, r, status, ErrorResponse{Error: msg})
}

// Write - общий хелпер: добавляет request_id и пишет JSON.
func Write(w http.ResponseWriter, r *http.Request, status int, resp ErrorResponse) {
	if rid := r.Header.Get("X-Request-Id"); rid != "" {
		resp.RequestID = rid
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
