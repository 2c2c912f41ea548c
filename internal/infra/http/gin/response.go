package ginserver

import (
	"errors"
	"net/http"
	"sort"
	"strings"

	gin "github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	domainauth "petadopt/internal/domain/auth"
	domainchat "petadopt/internal/domain/chat"
)

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func succeed(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
}

func failValidation(c *gin.Context, message string, fields []fieldError) {
	body := gin.H{"success": false, "message": message}
	if len(fields) > 0 {
		body["errors"] = fields
	}
	c.JSON(http.StatusBadRequest, body)
}

// failBinding answers a request body that could not be decoded or validated.
func failBinding(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		failValidation(c, "Invalid request body", nil)
		return
	}
	fields := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		fields = append(fields, fieldError{Field: field, Message: bindingMessage(fe)})
	}
	failValidation(c, "Validation failed", fields)
}

func bindingMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " required"
	case "url":
		return fe.Field() + " must be a valid URL"
	case "max":
		return fe.Field() + " must be at most " + fe.Param()
	default:
		return fe.Field() + " is invalid"
	}
}

// statusFor maps service errors onto HTTP statuses. Validation errors are handled by the
// caller because they carry field detail.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domainauth.ErrUnauthenticated), errors.Is(err, domainauth.ErrTokenRequired):
		return http.StatusUnauthorized, "Unauthorized"
	case errors.Is(err, domainchat.ErrForbidden):
		return http.StatusForbidden, "not a chat participant"
	case errors.Is(err, domainchat.ErrNotFound):
		return http.StatusNotFound, "Conversation not found"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func validationFields(err error) (string, []fieldError) {
	var verr *domainchat.ValidationError
	if !errors.As(err, &verr) || verr.Empty() {
		return "Validation failed", nil
	}
	keys := make([]string, 0, len(verr.Fields))
	for k := range verr.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]fieldError, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, fieldError{Field: k, Message: verr.Fields[k]})
	}
	return fields[0].Message, fields
}
