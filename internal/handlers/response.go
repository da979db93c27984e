package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/neurostuff/neurostore-go/internal/apierr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondAPIError maps classified errors onto their HTTP status. Anything
// unclassified is a 500 with a generic message so internals never leak.
func RespondAPIError(c *gin.Context, err error) {
	status := apierr.StatusOf(err)
	if status == http.StatusInternalServerError {
		RespondError(c, status, apierr.CodeOf(err), errInternal)
		return
	}
	RespondError(c, status, apierr.CodeOf(err), err)
}

var errInternal = errors.New("internal server error")

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
