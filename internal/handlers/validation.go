package handlers

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/charlesng35/dbcache/pkg/errors"
	"github.com/charlesng35/dbcache/pkg/response"
	appValidator "github.com/charlesng35/dbcache/pkg/validator"
)

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// When validation fails, an error response is automatically written and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewBadRequest("invalid JSON payload"))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, validationError(err))
		return false
	}

	return true
}

func validationError(err error) *appErrors.AppError {
	ve, ok := err.(appValidator.ValidationErrors)
	if !ok || len(ve) == 0 {
		return appErrors.NewBadRequest("invalid request payload")
	}

	appErr := appErrors.ErrValidation.WithDetails(ve.Fields())
	appErr.Message = formatValidationError(ve)
	return appErr
}

func formatValidationError(ve appValidator.ValidationErrors) string {
	messages := make([]string, 0, len(ve))
	for _, failure := range ve {
		field := prettifyFieldName(failure.Field)
		switch failure.Tag {
		case "required":
			messages = append(messages, fmt.Sprintf("%s is required", field))
		case "min":
			messages = append(messages, fmt.Sprintf("%s must contain at least %s items", field, failure.Param))
		case "max":
			messages = append(messages, fmt.Sprintf("%s must contain at most %s items", field, failure.Param))
		case "cachekey":
			messages = append(messages, fmt.Sprintf("%s must be a key of 1 to %d characters", field, appValidator.MaxKeyLength))
		case "gt", "gte", "lte":
			messages = append(messages, fmt.Sprintf("%s is out of range (%s %s)", field, failure.Tag, failure.Param))
		default:
			if failure.Param != "" {
				messages = append(messages, fmt.Sprintf("%s failed validation: %s=%s", field, failure.Tag, failure.Param))
			} else {
				messages = append(messages, fmt.Sprintf("%s failed validation: %s", field, failure.Tag))
			}
		}
	}
	return strings.Join(messages, "; ")
}

func prettifyFieldName(name string) string {
	if name == "" {
		return "field"
	}
	name = strings.ReplaceAll(name, "_", " ")
	return strings.ToLower(name)
}
