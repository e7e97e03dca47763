package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
)

const maxBodySize = 64 << 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report json names so clients see the field they sent.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and validates it. An empty body is
// treated as an empty object.
func decode(w http.ResponseWriter, r *http.Request, dst any) *APIError {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := render.DecodeJSON(r.Body, dst); err != nil && !errors.Is(err, io.EOF) {
		return &APIError{
			StatusCode: http.StatusBadRequest,
			ErrorCode:  CodeInvalidRequest,
			Message:    "Invalid request body",
			Details:    err.Error(),
		}
	}
	return validateStruct(dst)
}

func validateStruct(v any) *APIError {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return NewAPIError(http.StatusBadRequest, CodeValidation, err.Error())
	}
	fields := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, FieldError{Field: fe.Field(), Message: describe(fe)})
	}
	return &APIError{
		StatusCode: http.StatusBadRequest,
		ErrorCode:  CodeValidation,
		Message:    "Request validation failed",
		Details:    fields,
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
