package middleware

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"sign-vrtl/internal/config"
	"sign-vrtl/internal/domain/entity"
)

const actorKey = "actor"

// AdminClaims are the bearer token claims of a back-office user
type AdminClaims struct {
	UserID    int64  `json:"uid"`
	PartnerID *int64 `json:"partner_id,omitempty"`
	jwt.RegisteredClaims
}

// AdminAuth verifies an HS256 bearer token and stores the caller's actor context.
// Without a configured secret every request is rejected.
func AdminAuth(cfg *config.Config, logger *zap.Logger) fiber.Handler {
	secret := []byte(cfg.Sign.JWTSecret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *fiber.Ctx) error {
		raw, ok := strings.CutPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if !ok || raw == "" || len(secret) == 0 {
			return unauthorized(c)
		}

		claims := &AdminClaims{}
		_, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || claims.UserID <= 0 {
			if err == nil {
				err = errors.New("missing uid claim")
			}
			logger.Warn("Rejected admin token",
				zap.String("ip", c.IP()),
				zap.Error(err),
			)
			return unauthorized(c)
		}

		userID := claims.UserID
		c.Locals(actorKey, entity.ActorContext{
			UserID:    &userID,
			PartnerID: claims.PartnerID,
			IP:        c.IP(),
		})
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(
		entity.NewErrorResponse("UNAUTHORIZED", "Missing or invalid bearer token"),
	)
}

// Actor returns the authenticated actor, or an anonymous one for public routes
func Actor(c *fiber.Ctx) entity.ActorContext {
	if actor, ok := c.Locals(actorKey).(entity.ActorContext); ok {
		return actor
	}
	return entity.AnonymousActor(c.IP())
}
