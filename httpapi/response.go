package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fieldcipher/rotor"
)

// APIResponse is the uniform envelope for every route.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

func respondOK(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Message: message, Data: data})
}

func respondCreated(c *gin.Context, message string, data any) {
	c.JSON(http.StatusCreated, APIResponse{Success: true, Message: message, Data: data})
}

func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, APIResponse{Success: false, Error: message, Code: "bad_request"})
}

// errorKind maps engine sentinels to HTTP status and stable code strings.
// Unrecognized errors become an opaque 500; internal detail never reaches
// the client.
func errorKind(err error) (int, string) {
	switch {
	case errors.Is(err, rotor.ErrInvalidCredentials):
		return http.StatusUnauthorized, "invalid_credentials"
	case errors.Is(err, rotor.ErrUserExists):
		return http.StatusConflict, "user_exists"
	case errors.Is(err, rotor.ErrUserNotFound):
		return http.StatusNotFound, "user_not_found"
	case errors.Is(err, rotor.ErrRefreshReuse):
		return http.StatusUnauthorized, "refresh_reuse"
	case errors.Is(err, rotor.ErrRefreshRevoked):
		return http.StatusUnauthorized, "token_revoked"
	case errors.Is(err, rotor.ErrRefreshExpired):
		return http.StatusUnauthorized, "refresh_expired"
	case errors.Is(err, rotor.ErrRefreshInvalid):
		return http.StatusUnauthorized, "refresh_invalid"
	case errors.Is(err, rotor.ErrTicketUsed):
		return http.StatusConflict, "qr_used"
	case errors.Is(err, rotor.ErrTicketExpired):
		return http.StatusBadRequest, "qr_expired"
	case errors.Is(err, rotor.ErrTicketInvalid):
		return http.StatusBadRequest, "qr_invalid"
	case errors.Is(err, rotor.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, rotor.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "backend_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func respondError(c *gin.Context, err error) {
	status, code := errorKind(err)

	message := err.Error()
	if status == http.StatusInternalServerError || status == http.StatusServiceUnavailable {
		message = "internal server error"
		if status == http.StatusServiceUnavailable {
			message = "service temporarily unavailable"
		}
	}

	c.JSON(status, APIResponse{Success: false, Error: message, Code: code})
}
