package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/rifqisaleh/revoubank/internal/apperr"
	"github.com/rifqisaleh/revoubank/internal/auth"
	"github.com/rifqisaleh/revoubank/internal/httputil"
	"go.uber.org/zap"
)

type RegisterRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	FullName    string `json:"full_name"`
	PhoneNumber string `json:"phone_number"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type ProfileResponse struct {
	ID          uint      `json:"id"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	FullName    string    `json:"full_name"`
	PhoneNumber string    `json:"phone_number"`
	Role        string    `json:"role"`
	CreatedAt   time.Time `json:"created_at"`
}

// UpdateProfileRequest changes only the fields present in the body.
type UpdateProfileRequest struct {
	Username    *string `json:"username"`
	Email       *string `json:"email"`
	Password    *string `json:"password"`
	FullName    *string `json:"full_name"`
	PhoneNumber *string `json:"phone_number"`
}

const badLogin = "invalid username or password"

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}

	u, err := h.Auth.Register(r.Context(), auth.RegisterInput{
		Username:    req.Username,
		Email:       req.Email,
		Password:    req.Password,
		FullName:    req.FullName,
		PhoneNumber: req.PhoneNumber,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ProfileResponse{
		ID: u.ID, Username: u.Username, Email: u.Email, FullName: u.FullName,
		PhoneNumber: u.PhoneNumber, Role: u.Role, CreatedAt: u.CreatedAt,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	if req.Username == "" || req.Password == "" {
		httputil.WriteError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	p, err := h.Auth.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, apperr.ErrUserNotFound) || errors.Is(err, apperr.ErrInvalidCredentials) {
		httputil.WriteError(w, http.StatusUnauthorized, badLogin)
		return
	}
	if err != nil {
		h.fail(w, err)
		return
	}

	token, exp, err := h.Tokens.Issue(p)
	if err != nil {
		h.Log.Error("failed to sign jwt", zap.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: exp})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := actor(w, r)
	if !ok {
		return
	}
	u, err := h.Auth.User(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ProfileResponse{
		ID: u.ID, Username: u.Username, Email: u.Email, FullName: u.FullName,
		PhoneNumber: u.PhoneNumber, Role: u.Role, CreatedAt: u.CreatedAt,
	})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := actor(w, r)
	if !ok {
		return
	}
	var req UpdateProfileRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		h.fail(w, err)
		return
	}
	u, err := h.Auth.UpdateProfile(r.Context(), id, auth.ProfileUpdate(req))
	if err != nil {
		h.fail(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ProfileResponse{
		ID: u.ID, Username: u.Username, Email: u.Email, FullName: u.FullName,
		PhoneNumber: u.PhoneNumber, Role: u.Role, CreatedAt: u.CreatedAt,
	})
}
