package server

import (
	"log/slog"
	"time"

	"coldfront/internal/middleware"
	"coldfront/internal/models"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

type tokenRequest struct {
	Username string `json:"username" validate:"required,max=150"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IssueToken handles POST /api/auth/token
// @Summary Obtain an API token
// @Description Exchange username and password for a bearer token. Provisioning agents use this to authenticate.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body tokenRequest true "Credentials"
// @Success 200 {object} tokenResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/token [post]
func (s *Server) IssueToken(c *fiber.Ctx) error {
	var req tokenRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	invalid := models.NewUnauthorizedError("Invalid username or password")

	user, err := s.userRepo.GetByUsername(c.UserContext(), req.Username)
	if err != nil {
		return s.respondError(c, err)
	}
	if user == nil || !user.IsActive || user.Password == "" {
		return models.RespondWithError(c, fiber.StatusUnauthorized, invalid)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)) != nil {
		middleware.Logger.WarnContext(c.UserContext(), "Failed token request",
			slog.String("username", req.Username),
			slog.String("ip", c.IP()))
		return models.RespondWithError(c, fiber.StatusUnauthorized, invalid)
	}

	ttl := time.Duration(s.config.JWTTTLHours) * time.Hour
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	token, expiresAt, err := middleware.IssueToken(s.config.JWTSecret, user.ID, ttl)
	if err != nil {
		return s.respondError(c, models.NewInternalError(err))
	}

	return c.JSON(tokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt,
	})
}
