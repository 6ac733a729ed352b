package handler

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/open-apime/apime-gateway/internal/pkg/apperror"
)

// bindJSON decodifica o corpo; tags de binding violadas viram VALIDATION_ERROR
// e JSON malformado vira INVALID_REQUEST. Corpo vazio é aceito quando optional.
func bindJSON(c *gin.Context, dst any, optional bool) error {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return nil
	}
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return apperror.Validation(err)
	}
	return apperror.InvalidRequest("JSON inválido", map[string]string{"body": err.Error()})
}
