package server

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"coldfront/internal/database"
	"coldfront/internal/middleware"
	"coldfront/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

var validate = validator.New()

const accessLocalsKey = "access"

// Pagination holds parsed limit/offset query parameters.
type Pagination struct {
	Limit  int
	Offset int
}

const (
	maxPaginationLimit = 200
)

// parsePagination extracts limit and offset query parameters with the given default limit.
func parsePagination(c *fiber.Ctx, defaultLimit int) Pagination {
	limit := c.QueryInt("limit", defaultLimit)
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxPaginationLimit {
		limit = maxPaginationLimit
	}

	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	return Pagination{
		Limit:  limit,
		Offset: offset,
	}
}

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
func (s *Server) parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid "+param))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// parseBody decodes and validates the JSON body into dst.
// On failure it writes a 400 JSON response and returns errResponseWritten.
func parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
		return errResponseWritten
	}
	if err := validate.Struct(dst); err != nil {
		var verr validator.ValidationErrors
		if errors.As(err, &verr) {
			_ = models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewFieldValidationError(fieldMessages(verr)))
			return errResponseWritten
		}
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
		return errResponseWritten
	}
	return nil
}

// fieldMessages turns validator errors into messages keyed by JSON field name.
func fieldMessages(verr validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(verr))
	for _, fe := range verr {
		field := fe.Field()
		var msg string
		switch fe.Tag() {
		case "required":
			msg = "This field is required."
		case "gt":
			msg = fmt.Sprintf("Ensure this value is greater than %s.", fe.Param())
		case "max":
			msg = fmt.Sprintf("Ensure this field has no more than %s characters.", fe.Param())
		case "oneof":
			msg = fmt.Sprintf("Must be one of: %s.", strings.ReplaceAll(fe.Param(), " ", ", "))
		default:
			msg = "Invalid value."
		}
		out[field] = msg
	}
	return out
}

func init() {
	// Report fields under their JSON names.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// respondError translates a service error into an HTTP response. Internal
// causes are logged and never sent to the client.
func (s *Server) respondError(c *fiber.Ctx, err error) error {
	switch models.ErrorCode(err) {
	case models.CodeValidation:
		return models.RespondWithError(c, fiber.StatusBadRequest, err)
	case models.CodeNotFound:
		return models.RespondWithError(c, fiber.StatusNotFound, err)
	case models.CodeUnauthorized:
		return models.RespondWithError(c, fiber.StatusUnauthorized, err)
	case models.CodeForbidden:
		return models.RespondWithError(c, fiber.StatusForbidden, err)
	case models.CodeConflict:
		return models.RespondWithError(c, fiber.StatusConflict, err)
	}

	if database.IsTransient(err) {
		middleware.Logger.WarnContext(c.UserContext(), "Transient database error",
			slog.String("path", c.Path()),
			slog.String("error", err.Error()))
		return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
			Error: "Service temporarily unavailable, retry the request.",
			Code:  "UNAVAILABLE",
		})
	}

	middleware.Logger.ErrorContext(c.UserContext(), "Request failed",
		slog.String("method", c.Method()),
		slog.String("path", c.Path()),
		slog.String("error", err.Error()))
	return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
}

func currentUserID(c *fiber.Ctx) uint {
	id, _ := c.Locals("userID").(uint)
	return id
}

// userAccess returns the caller's access profile, loading it once per request.
func (s *Server) userAccess(c *fiber.Ctx) (models.UserAccess, error) {
	if a, ok := c.Locals(accessLocalsKey).(models.UserAccess); ok {
		return a, nil
	}
	a, err := s.userRepo.Access(c.UserContext(), currentUserID(c))
	if err != nil {
		return models.UserAccess{}, err
	}
	c.Locals(accessLocalsKey, *a)
	return *a, nil
}

// requireAccess rejects callers for whom allowed returns false with 403.
// Must be placed after AuthRequired so that userID is available in locals.
func (s *Server) requireAccess(allowed func(models.UserAccess) bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		access, err := s.userAccess(c)
		if err != nil {
			if models.IsNotFound(err) {
				return models.RespondWithError(c, fiber.StatusUnauthorized,
					models.NewUnauthorizedError("Unknown user"))
			}
			return s.respondError(c, err)
		}
		if !allowed(access) {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewForbiddenError("You do not have permission to perform this action."))
		}
		return c.Next()
	}
}
