package handlers

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"braibit-api/internal/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Use JSON tag names for errors instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// parseBody decodes the request body into req and validates its tags.
func parseBody(c *fiber.Ctx, req any) error {
	if err := c.BodyParser(req); err != nil {
		return badRequest(err)
	}

	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return badRequest(err)
	}

	details := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			details = append(details, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			details = append(details, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
		}
	}
	return &services.AppError{
		Code:    fiber.StatusBadRequest,
		Message: "Validation failed",
		Details: strings.Join(details, "; "),
		Err:     err,
	}
}
