package handlers

import (
	"time"

	"github.com/pribylovaa/taskboard-auth/internal/models"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// refreshRequest используется и для /auth/refresh, и для /auth/logout.
type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type userDTO struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type registerResponse struct {
	Message string  `json:"message"`
	User    userDTO `json:"user"`
}

type loginResponse struct {
	AccessToken  string  `json:"accessToken"`
	RefreshToken string  `json:"refreshToken"`
	User         userDTO `json:"user"`
}

type refreshResponse struct {
	AccessToken string  `json:"accessToken"`
	User        userDTO `json:"user"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type meResponse struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

func toUserDTO(u models.PublicUser) userDTO {
	return userDTO{ID: u.ID, Name: u.Name, Email: u.Email}
}
