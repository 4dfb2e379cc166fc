package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/loftwire/accounts-api/internal/api"
)

// HandlerImpl adapts the credential service to HTTP. Input-shape validation
// and normalization live here, on the caller side of the core boundary.
type HandlerImpl struct {
	authService AuthService
	logger      *slog.Logger
}

func NewAuthHandlerImpl(authService AuthService, logger *slog.Logger) *HandlerImpl {
	return &HandlerImpl{
		authService: authService,
		logger:      logger,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// writeServiceError maps typed service failures onto transport status codes.
func (h *HandlerImpl) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrDuplicateEmail):
		api.ErrorResponse(w, r, http.StatusConflict, ErrDuplicateEmail.Error())
	case errors.Is(err, ErrInvalidCredentials):
		api.ErrorResponse(w, r, http.StatusUnauthorized, ErrInvalidCredentials.Error())
	case errors.Is(err, ErrUserNotFound):
		api.ErrorResponse(w, r, http.StatusNotFound, ErrUserNotFound.Error())
	case errors.Is(err, ErrInvalidOrExpiredToken):
		api.ErrorResponse(w, r, http.StatusBadRequest, ErrInvalidOrExpiredToken.Error())
	default:
		h.logger.ErrorContext(r.Context(), "Unhandled service error", slog.Any("error", err))
		api.ErrorResponse(w, r, http.StatusInternalServerError, "internal server error")
	}
}

func (h *HandlerImpl) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = normalizeEmail(req.Email)

	if len(req.Name) < 3 {
		api.ErrorResponse(w, r, http.StatusBadRequest, "name must be at least 3 characters")
		return
	}
	if !validEmail(req.Email) {
		api.ErrorResponse(w, r, http.StatusBadRequest, "email must be a valid address")
		return
	}
	if len(req.Password) < 6 {
		api.ErrorResponse(w, r, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	user, err := h.authService.SignUp(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusCreated, user)
}

func (h *HandlerImpl) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	req.Email = normalizeEmail(req.Email)
	if req.Email == "" || req.Password == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "email and password are required")
		return
	}

	user, token, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, LoginResponse{
		User:        user,
		AccessToken: token,
	})
}

func (h *HandlerImpl) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	req.Email = normalizeEmail(req.Email)
	if !validEmail(req.Email) {
		api.ErrorResponse(w, r, http.StatusBadRequest, "email must be a valid address")
		return
	}

	token, err := h.authService.ResetPassword(r.Context(), req.Email)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, ResetPasswordResponse{
		ResetPasswordToken: token,
	})
}

func (h *HandlerImpl) VerifyResetPassword(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("reset-token")

	var req VerifyResetPasswordRequest
	if err := api.DecodeJSONBody(w, r, &req); err != nil {
		api.ErrorResponse(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if token == "" || req.NewPassword == "" {
		api.ErrorResponse(w, r, http.StatusBadRequest, "both 'reset-token' query parameter and 'newPassword' field are required")
		return
	}
	if len(req.NewPassword) < 6 {
		api.ErrorResponse(w, r, http.StatusBadRequest, "password must be at least 6 characters")
		return
	}

	if err := h.authService.VerifyResetPasswordToken(r.Context(), token, req.NewPassword); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, Response{
		Success: true,
		Message: "Password has been reset successfully",
	})
}

func (h *HandlerImpl) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	user, err := h.authService.GetUserByID(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusOK, user)
}

func (h *HandlerImpl) DeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		api.ErrorResponse(w, r, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.authService.DeleteAccount(r.Context(), userID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	api.WriteJSONResponse(w, r, http.StatusNoContent, nil)
}
