package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/arbor-backend/internal/domain"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Kind    string `json:"kind,omitempty"`
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

// RespondDomainError maps the engine error taxonomy onto HTTP statuses.
// not_found is 404, invalid_operation is 409 (the request was well formed
// but conflicts with tree structure), everything else is 500.
func RespondDomainError(c *gin.Context, err error) {
	code := types.CodeOf(err)
	if code == "" {
		code = types.CodeInternal
	}
	status := http.StatusInternalServerError
	switch code {
	case types.CodeNotFound:
		status = http.StatusNotFound
	case types.CodeInvalidOperation:
		status = http.StatusConflict
	}
	env := ErrorEnvelope{
		Error: APIError{
			Message: err.Error(),
			Code:    string(code),
		},
	}
	if kind := types.KindOf(err); kind != "" {
		env.Error.Kind = string(kind)
	}
	c.JSON(status, env)
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}

func RespondCreated(c *gin.Context, payload any) {
	c.JSON(http.StatusCreated, payload)
}
