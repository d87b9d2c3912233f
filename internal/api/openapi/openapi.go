// Пакет openapi — контракт HTTP API sitepanel и проверка запросов по нему.
package openapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/legacy"

	apierrors "github.com/bigkaa/sitepanel/internal/api/errors"
)

//go:embed openapi.yaml
var specYAML []byte

// Spec возвращает исходный YAML контракта.
func Spec() []byte {
	return specYAML
}

// Load разбирает и валидирует встроенный контракт.
func Load() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(specYAML)
	if err != nil {
		return nil, fmt.Errorf("разбор OpenAPI: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("валидация OpenAPI: %w", err)
	}
	return doc, nil
}

// Validator проверяет параметры и тела запросов по контракту.
// Запросы к путям вне контракта (health, metrics) пропускаются без проверки.
type Validator struct {
	router routers.Router
	logger *slog.Logger
}

// NewValidator создаёт валидатор по встроенному контракту.
func NewValidator(logger *slog.Logger) (*Validator, error) {
	doc, err := Load()
	if err != nil {
		return nil, err
	}
	router, err := legacy.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("построение маршрутов OpenAPI: %w", err)
	}
	return &Validator{
		router: router,
		logger: logger.With(slog.String("component", "openapi_validator")),
	}, nil
}

// Middleware возвращает HTTP middleware проверки запросов.
// Аутентификация проверяется JWT middleware, здесь — только форма запроса.
func (v *Validator) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route, pathParams, err := v.router.FindRoute(r)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			input := &openapi3filter.RequestValidationInput{
				Request:    r,
				PathParams: pathParams,
				Route:      route,
				Options: &openapi3filter.Options{
					AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
				},
			}
			if err := openapi3filter.ValidateRequest(r.Context(), input); err != nil {
				v.logger.Debug("Запрос не соответствует контракту",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				apierrors.ValidationError(w, validationMessage(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// validationMessage возвращает краткое описание ошибки проверки.
func validationMessage(err error) string {
	var reqErr *openapi3filter.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Parameter != nil {
			return fmt.Sprintf("Invalid parameter %s: %s", reqErr.Parameter.Name, reasonOf(reqErr))
		}
		if reqErr.RequestBody != nil {
			return "Invalid request body: " + reasonOf(reqErr)
		}
	}
	return "Invalid request: " + err.Error()
}

func reasonOf(e *openapi3filter.RequestError) string {
	var schemaErr *openapi3.SchemaError
	if errors.As(e.Err, &schemaErr) {
		return schemaErr.Reason
	}
	if e.Reason != "" {
		return e.Reason
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return "invalid value"
}
