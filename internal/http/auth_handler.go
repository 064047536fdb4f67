package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"account-auth/internal/service"
	"account-auth/internal/validation"
)

const (
	msgRegistered       = "User registered successfully."
	msgEmailUsed        = "Email is already used."
	msgBadCredentials   = "invalid email or password."
	msgSuspended        = "Your account is suspended. Please contact Administrator"
	msgNotVerified      = "Your account is not verified. Please check your email."
	msgTooManyAttempts  = "too many login attempts"
	msgTokenRequired    = "Request parameter 'token' is required."
	msgTokenEmpty       = "Verification token can not be empty."
	msgTokenInvalid     = "invalid or expired verification token."
	msgTokenExpired     = "Verification token has expired."
	msgVerified         = "Your email address has been successfully verified. You can now log in."
	msgUnreadableBody   = "Please check request body"
	msgInternalError    = "internal server error"
	msgInvalidInput     = "email address and password are required"
	keyRegistration     = "registration_status"
	keyRequestBodyError = "Request_Body_Error"
)

// AuthHandler expone registro, login y verificacion bajo /api/v1/auth.
type AuthHandler struct {
	logger *zap.Logger
	auth   *service.AuthService
}

func NewAuthHandler(logger *zap.Logger, auth *service.AuthService) *AuthHandler {
	return &AuthHandler{
		logger: logger,
		auth:   auth,
	}
}

type registerRequest struct {
	EmailAddress string `json:"emailAddress" label:"Email address" validate:"notblank,account_email"`
	Password     string `json:"password" label:"Password" validate:"notblank,strong_password"`
}

type loginRequest struct {
	EmailAddress string `json:"emailAddress" label:"Email address" validate:"notblank,login_email"`
	Password     string `json:"password" label:"Password" validate:"notblank"`
}

// Register maneja POST /api/v1/auth/register.
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	err := h.auth.Register(c.Request.Context(), service.RegisterInput{
		EmailAddress: req.EmailAddress,
		Password:     req.Password,
	})
	if err != nil {
		status, body := registerErrorResponse(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("register failed", zap.Error(err))
		}
		c.JSON(status, body)
		return
	}

	c.JSON(http.StatusCreated, gin.H{keyRegistration: msgRegistered})
}

func registerErrorResponse(err error) (int, gin.H) {
	switch {
	case errors.Is(err, service.ErrAlreadyExists):
		return http.StatusConflict, gin.H{keyRegistration: msgEmailUsed}
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, gin.H{"error": msgInvalidInput}
	default:
		return http.StatusInternalServerError, gin.H{"error": msgInternalError}
	}
}

// Login maneja POST /api/v1/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	token, err := h.auth.Login(c.Request.Context(), req.EmailAddress, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			c.JSON(http.StatusUnauthorized, gin.H{"error": msgBadCredentials})
		case errors.Is(err, service.ErrSuspended):
			c.JSON(http.StatusUnauthorized, gin.H{"error": msgSuspended})
		case errors.Is(err, service.ErrNotVerified):
			c.JSON(http.StatusUnauthorized, gin.H{"error": msgNotVerified})
		case errors.Is(err, service.ErrRateLimited):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": msgTooManyAttempts})
		default:
			h.logger.Error("login failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token})
}

// VerifyEmail maneja GET /api/v1/auth/verify?token=...
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	token, ok := c.GetQuery("token")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgTokenRequired})
		return
	}
	if strings.TrimSpace(token) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgTokenEmpty})
		return
	}

	if err := h.auth.VerifyEmail(c.Request.Context(), token); err != nil {
		switch {
		case errors.Is(err, service.ErrTokenExpired):
			c.JSON(http.StatusBadRequest, gin.H{"error": msgTokenExpired})
		case errors.Is(err, service.ErrInvalidToken):
			c.JSON(http.StatusBadRequest, gin.H{"error": msgTokenInvalid})
		default:
			h.logger.Error("verify email failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": msgVerified})
}

// Me maneja GET /api/v1/auth/me; requiere JWTAuthMiddleware.
func (h *AuthHandler) Me(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	id, err := claims.AccountID()
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           id,
		"emailAddress": claims.EmailAddress,
		"roles":        claims.Roles,
	})
}

func (h *AuthHandler) bindAndValidate(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		h.logger.Debug("unreadable request body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{keyRequestBodyError: msgUnreadableBody})
		return false
	}
	if err := validation.ValidateStruct(req); err != nil {
		var fields validation.FieldErrors
		if errors.As(err, &fields) {
			c.JSON(http.StatusBadRequest, fields)
			return false
		}
		h.logger.Error("validate request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternalError})
		return false
	}
	return true
}
