package handler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"sign-vrtl/internal/domain/entity"
)

var statusByKind = map[entity.ErrorKind]int{
	entity.KindValidation:    fiber.StatusBadRequest,
	entity.KindStateConflict: fiber.StatusConflict,
	entity.KindAccessDenied:  fiber.StatusForbidden,
	entity.KindNotFound:      fiber.StatusNotFound,
	entity.KindIntegrity:     fiber.StatusUnprocessableEntity,
}

// respondError maps domain errors onto the response envelope. Anything else is an
// internal failure whose details stay in the log.
func respondError(c *fiber.Ctx, logger *zap.Logger, err error, msg string) error {
	var de *entity.Error
	if errors.As(err, &de) {
		status := statusByKind[de.Kind]
		message := de.Error()
		if de.Kind == entity.KindAccessDenied {
			message = entity.ErrAccessDenied.Message
		}
		return c.Status(status).JSON(entity.NewErrorResponse(string(de.Kind), message))
	}

	logger.Error(msg,
		zap.String("path", c.Path()),
		zap.String("request_id", requestID(c)),
		zap.Error(err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(
		entity.NewErrorResponse("INTERNAL_ERROR", msg),
	)
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(
		entity.NewErrorResponse(string(entity.KindValidation), message),
	)
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestid").(string); ok {
		return id
	}
	return ""
}

func paramID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, entity.NewValidationError("invalid %s", name)
	}
	return id, nil
}

// publicID treats malformed ids on token routes as a denied token
func publicID(c *fiber.Ctx, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Params(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, entity.ErrAccessDenied
	}
	return id, nil
}
