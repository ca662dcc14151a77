package handlers

import (
	"net/http"

	apierrors "github.com/pribylovaa/taskboard-auth/internal/errors"
	"github.com/pribylovaa/taskboard-auth/internal/http/middleware"
	"github.com/pribylovaa/taskboard-auth/internal/service"
)

const (
	msgRegistered   = "Usuário criado com sucesso"
	msgLoggedOut    = "Logout realizado com sucesso"
	msgLoggedOutAll = "Logout realizado em todos os dispositivos"

	msgRegisterFailed = "Erro ao criar usuário"
	msgLoginFailed    = "Erro ao fazer login"
	msgRefreshFailed  = "Erro ao renovar token"
	msgLogoutFailed   = "Erro ao fazer logout"
)

// invalidBody - ответ на тело, которое не удалось разобрать как JSON.
var invalidBody = []apierrors.FieldError{{Field: "body", Message: "JSON inválido"}}

// Register - POST /auth/register.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeStrict(w, r, &req); err != nil {
		apierrors.WriteValidation(w, r, invalidBody)
		return
	}

	if fe := validateRegister(req); len(fe) > 0 {
		apierrors.WriteValidation(w, r, fe)
		return
	}

	user, err := h.svc.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		apierrors.WriteError(w, r, err, msgRegisterFailed)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		Message: msgRegistered,
		User:    toUserDTO(user),
	})
}

// Login - POST /auth/login.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeStrict(w, r, &req); err != nil {
		apierrors.WriteValidation(w, r, invalidBody)
		return
	}

	if fe := validateLogin(req); len(fe) > 0 {
		apierrors.WriteValidation(w, r, fe)
		return
	}

	sess, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		apierrors.WriteError(w, r, err, msgLoginFailed)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		User:         toUserDTO(sess.User),
	})
}

// Refresh - POST /auth/refresh.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeStrict(w, r, &req); err != nil {
		apierrors.WriteValidation(w, r, invalidBody)
		return
	}

	if fe := validateRefresh(req); len(fe) > 0 {
		apierrors.WriteValidation(w, r, fe)
		return
	}

	grant, err := h.svc.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		apierrors.WriteError(w, r, err, msgRefreshFailed)
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		AccessToken: grant.AccessToken,
		User:        toUserDTO(grant.User),
	})
}

// Logout - POST /auth/logout: отзыв одного refresh-токена. Идемпотентен.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeStrict(w, r, &req); err != nil {
		apierrors.WriteValidation(w, r, invalidBody)
		return
	}

	if fe := validateRefresh(req); len(fe) > 0 {
		apierrors.WriteValidation(w, r, fe)
		return
	}

	if err := h.svc.Revoke(r.Context(), req.RefreshToken); err != nil {
		apierrors.WriteError(w, r, err, msgLogoutFailed)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: msgLoggedOut})
}

// LogoutAll - POST /auth/logout-all (за Authenticate).
func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		apierrors.WriteMessage(w, r, http.StatusUnauthorized, apierrors.MsgTokenMissing)
		return
	}

	if err := h.svc.RevokeAll(r.Context(), id.UserID); err != nil {
		apierrors.WriteError(w, r, err, msgLogoutFailed)
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: msgLoggedOutAll})
}

// Me - GET /auth/me (за Authenticate).
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		apierrors.WriteMessage(w, r, http.StatusUnauthorized, apierrors.MsgTokenMissing)
		return
	}

	info, err := h.svc.UserInfo(r.Context(), id.UserID)
	if err != nil {
		if service.KindOf(err) == service.KindUserNotFound {
			apierrors.WriteMessage(w, r, http.StatusNotFound, apierrors.MsgUserNotFound)
			return
		}

		apierrors.WriteError(w, r, err, apierrors.MsgInternal)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		ID:        info.ID,
		Name:      info.Name,
		Email:     info.Email,
		CreatedAt: info.CreatedAt,
	})
}
