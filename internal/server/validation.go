package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"
)

// maxRequestBody bounds JSON request bodies
const maxRequestBody = 64 * 1024

var catalogIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)

// ValidationError represents a validation error with details
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// ValidationResult contains validation results
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("catalog_id", validateCatalogID)
	return v
}

// validateCatalogID accepts identifiers that are safe to place in a catalog URL path.
func validateCatalogID(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "." || s == ".." {
		return false
	}
	return catalogIDPattern.MatchString(s)
}

// decodeAndValidate reads a JSON body into dst and runs struct validation on it.
// It writes the error response itself and reports whether the handler may continue.
func (ds *DownloadServer) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody+1))
	if err != nil {
		ds.respondWithError(w, r, http.StatusBadRequest, "Failed to read request body", err)
		return false
	}
	if len(body) > maxRequestBody {
		ds.respondWithError(w, r, http.StatusRequestEntityTooLarge, "Request body too large", nil)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		ds.respondWithError(w, r, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}

	if err := ds.validator.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			ds.respondWithError(w, r, http.StatusBadRequest, "Invalid request", err)
			return false
		}
		ds.respondWithValidationError(w, r, toValidationErrors(verrs))
		return false
	}
	return true
}

func toValidationErrors(verrs validator.ValidationErrors) []ValidationError {
	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Message: validationMessage(fe),
			Code:    strings.ToUpper(fe.Field() + "_" + fe.Tag()),
		})
	}
	return out
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s too long (max %s characters)", fe.Field(), fe.Param())
	case "catalog_id":
		return fmt.Sprintf("%s must contain only letters, digits, '.', '_', ':' or '-'", fe.Field())
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}

// parseLimit reads an optional positive integer query parameter.
func parseLimit(r *http.Request, name string, max int) (int, *ValidationError) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, &ValidationError{
			Field:   name,
			Message: fmt.Sprintf("%s must be a positive integer", name),
			Code:    "INVALID_" + strings.ToUpper(name),
		}
	}
	if n > max {
		n = max
	}
	return n, nil
}

// respondWithValidationError sends a structured validation error response
func (ds *DownloadServer) respondWithValidationError(w http.ResponseWriter, r *http.Request, errs []ValidationError) {
	ds.logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"errors": errs,
	}).Warn("Validation failed")

	ds.respondJSON(w, http.StatusBadRequest, ValidationResult{
		Valid:  false,
		Errors: errs,
	})
}

// respondWithError sends a structured error response
func (ds *DownloadServer) respondWithError(w http.ResponseWriter, r *http.Request, statusCode int, message string, err error) {
	logEntry := ds.logger.WithFields(logrus.Fields{
		"method":      r.Method,
		"path":        r.URL.Path,
		"status_code": statusCode,
		"message":     message,
	})

	if err != nil {
		logEntry = logEntry.WithError(err)
	}

	if statusCode >= 500 {
		logEntry.Error("Server error")
	} else {
		logEntry.Warn("Client error")
	}

	ds.respondJSON(w, statusCode, map[string]interface{}{
		"error":   message,
		"code":    statusCode,
		"success": false,
	})
}

func (ds *DownloadServer) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		ds.logger.WithError(err).Error("Failed to encode response")
	}
}
