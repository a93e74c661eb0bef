package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/relaychat/go-relaychat/internal/auth"
	"github.com/relaychat/go-relaychat/internal/store"
	"github.com/relaychat/go-relaychat/internal/types"
)

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type LoginResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

func sanitizeUser(u store.User) types.User {
	return types.User{
		Id:        u.Id,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		Status:    u.Status,
		AvatarURL: u.AvatarURL,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (s *RelayApp) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)

	var errResp *ApiError
	switch {
	case len(req.Username) < 3 || len(req.Username) > 32:
		errResp = NewValidationError("username")
	case !strings.Contains(req.Email, "@"):
		errResp = NewValidationError("email")
	case len(req.Password) < 8:
		errResp = NewValidationError("password")
	}
	if errResp != nil {
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := auth.HashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	newUser, err := s.db.CreateAccount(store.CreateAccountParams{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: pwdHash,
		Role:         types.RoleUser,
	})
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, store.ErrDuplicate) {
			errResp = NewValidationError("username or email already taken")
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, map[string]types.User{"user": sanitizeUser(newUser)})
}

func (s *RelayApp) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	login := req.Username
	if login == "" {
		login = req.Email
	}
	if login == "" || req.Password == "" {
		errResp := NewValidationError("username or password")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByLogin(login)
	if err != nil {
		// absence and bad password are indistinguishable to the caller
		errResp := NewUnauthorizedError(CodeInvalidCredentials)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !auth.VerifyPassword(dbUser.PasswordHash, req.Password) {
		errResp := NewUnauthorizedError(CodeInvalidCredentials)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token, _, err := s.tokens.StartSession(dbUser)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.UpdateStatus(dbUser.Id, types.StatusOnline)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, LoginResponse{
		Token: token,
		User:  sanitizeUser(user),
	})
}

// logout performs the two coordinated mutations: the session record is
// deleted and the token id revoked, so the very next verify rejects the
// token on either predicate.
func (s *RelayApp) logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError(CodeTokenInvalid)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.tokens.EndSession(claims); err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if _, err := s.db.UpdateStatus(claims.UserId, types.StatusOffline); err != nil {
		s.log.Println("update status:", err)
	}

	s.writeJson(w, http.StatusOK, map[string]string{"message": "logged out"})
}

func (s *RelayApp) profile(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError(CodeTokenInvalid)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, store.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, sanitizeUser(user))
}

func (s *RelayApp) updateStatus(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError(CodeTokenInvalid)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !types.ValidStatus(req.Status) {
		errResp := NewValidationError("status")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.UpdateStatus(userId, req.Status)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, store.ErrNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": user.Status})
}
