package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"sign-vrtl/internal/delivery/http/middleware"
	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/usecase"
)

// SignRequestHandler serves the back-office API
type SignRequestHandler struct {
	requests usecase.SignRequestUsecase
	items    usecase.SignItemUsecase
	audit    usecase.AuditUsecase
	reminder usecase.ReminderUsecase
	notify   usecase.NotificationUsecase
	logger   *zap.Logger
}

func NewSignRequestHandler(
	requests usecase.SignRequestUsecase,
	items usecase.SignItemUsecase,
	audit usecase.AuditUsecase,
	reminder usecase.ReminderUsecase,
	notify usecase.NotificationUsecase,
	logger *zap.Logger,
) *SignRequestHandler {
	return &SignRequestHandler{
		requests: requests,
		items:    items,
		audit:    audit,
		reminder: reminder,
		notify:   notify,
		logger:   logger,
	}
}

type CreateSignRequestBody struct {
	usecase.CreateSignRequestInput
	Validity string `json:"validity"` // YYYY-MM-DD, optional
}

type BulkCancelBody struct {
	IDs []int64 `json:"ids"`
}

type UpdateEmailBody struct {
	Email string `json:"email"`
}

type CancelItemBody struct {
	RevokeAccess *bool `json:"revoke_access"`
}

// Create godoc
// @Summary Create a sign request
// @Tags sign-requests
// @Accept json
// @Produce json
// @Param request body CreateSignRequestBody true "Sign request"
// @Success 201 {object} entity.APIResponse
// @Failure 400 {object} entity.APIResponse
// @Router /api/v1/requests [post]
func (h *SignRequestHandler) Create(c *fiber.Ctx) error {
	var body CreateSignRequestBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}

	in := body.CreateSignRequestInput
	if body.Validity != "" {
		validity, err := time.Parse("2006-01-02", body.Validity)
		if err != nil {
			return badRequest(c, "validity must be formatted as YYYY-MM-DD")
		}
		in.Validity = &validity
	}

	detail, err := h.requests.Create(c.UserContext(), &in, middleware.Actor(c))
	if err != nil {
		return respondError(c, h.logger, err, "Failed to create sign request")
	}
	return c.Status(fiber.StatusCreated).JSON(entity.NewSuccessResponse(detail, "Sign request created"))
}

func (h *SignRequestHandler) Get(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}
	detail, err := h.requests.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err, "Failed to get sign request")
	}
	return c.JSON(entity.NewSuccessResponse(detail, "Sign request retrieved"))
}

func (h *SignRequestHandler) Logs(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}
	logs, err := h.audit.ListLogs(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err, "Failed to list sign logs")
	}
	return c.JSON(entity.NewSuccessResponse(logs, "Sign logs retrieved"))
}

// Deliveries godoc
// @Summary List notification attempts for a sign request, newest first
// @Tags sign-requests
// @Produce json
// @Param id path int true "Sign request ID"
// @Success 200 {object} entity.APIResponse
// @Router /api/v1/requests/{id}/deliveries [get]
func (h *SignRequestHandler) Deliveries(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}
	deliveries, err := h.notify.Deliveries(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err, "Failed to list mail deliveries")
	}
	return c.JSON(entity.NewSuccessResponse(deliveries, "Mail deliveries retrieved"))
}

// Integrity godoc
// @Summary Verify the audit chain of a sign request
// @Tags sign-requests
// @Produce json
// @Param id path int true "Sign request ID"
// @Success 200 {object} entity.APIResponse
// @Router /api/v1/requests/{id}/integrity [get]
func (h *SignRequestHandler) Integrity(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}
	report, err := h.audit.CheckIntegrity(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err, "Failed to verify sign log chain")
	}
	message := "Sign log chain is intact"
	if !report.Intact {
		message = "Sign log chain is broken"
	}
	return c.JSON(entity.NewSuccessResponse(report, message))
}

func (h *SignRequestHandler) Send(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}
	detail, err := h.requests.Send(c.UserContext(), id, middleware.Actor(c))
	if err != nil {
		return respondError(c, h.logger, err, "Failed to send sign request")
	}
	return c.JSON(entity.NewSuccessResponse(detail, "Sign request sent"))
}

func (h *SignRequestHandler) Cancel(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}
	if err := h.requests.Cancel(c.UserContext(), id, middleware.Actor(c)); err != nil {
		return respondError(c, h.logger, err, "Failed to cancel sign request")
	}
	return c.JSON(entity.NewSuccessResponse(nil, "Sign request canceled"))
}

func (h *SignRequestHandler) BulkCancel(c *fiber.Ctx) error {
	var body BulkCancelBody
	if err := c.BodyParser(&body); err != nil || len(body.IDs) == 0 {
		return badRequest(c, "ids is required")
	}
	results := h.requests.BulkCancel(c.UserContext(), body.IDs, middleware.Actor(c))
	return c.JSON(entity.NewSuccessResponse(results, "Bulk cancel processed"))
}

func (h *SignRequestHandler) Archive(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}
	if err := h.requests.Archive(c.UserContext(), id, middleware.Actor(c)); err != nil {
		return respondError(c, h.logger, err, "Failed to archive sign request")
	}
	return c.JSON(entity.NewSuccessResponse(nil, "Sign request archived"))
}

func (h *SignRequestHandler) MarkDecrypted(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}
	if err := h.requests.MarkDecrypted(c.UserContext(), id, middleware.Actor(c)); err != nil {
		return respondError(c, h.logger, err, "Failed to release completed document")
	}
	return c.JSON(entity.NewSuccessResponse(nil, "Sign request marked as decrypted"))
}

func (h *SignRequestHandler) UpdateSignerEmail(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}
	itemID, err := paramID(c, "itemId")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}
	var body UpdateEmailBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}

	item, err := h.items.UpdateSignerEmail(c.UserContext(), id, itemID, body.Email, middleware.Actor(c))
	if err != nil {
		return respondError(c, h.logger, err, "Failed to update signer email")
	}
	return c.JSON(entity.NewSuccessResponse(item, "Signer email updated"))
}

func (h *SignRequestHandler) CancelItem(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}
	itemID, err := paramID(c, "itemId")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}

	var body CancelItemBody
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&body); err != nil {
			return badRequest(c, "Invalid request body")
		}
	}
	revoke := body.RevokeAccess == nil || *body.RevokeAccess

	item, err := h.items.Cancel(c.UserContext(), id, itemID, revoke, middleware.Actor(c))
	if err != nil {
		return respondError(c, h.logger, err, "Failed to cancel signer")
	}
	return c.JSON(entity.NewSuccessResponse(item, "Signer canceled"))
}

func (h *SignRequestHandler) PartnerSignatures(c *fiber.Ctx) error {
	id, err := paramID(c, "id")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}
	sigs, err := h.requests.PartnerSignatures(c.UserContext(), id)
	if err != nil {
		return respondError(c, h.logger, err, "Failed to list partner signatures")
	}
	return c.JSON(entity.NewSuccessResponse(sigs, "Partner signatures retrieved"))
}

// RunReminder triggers the reminder sweep outside its schedule
func (h *SignRequestHandler) RunReminder(c *fiber.Ctx) error {
	result, err := h.reminder.CronReminder(c.UserContext())
	if err != nil {
		return respondError(c, h.logger, err, "Reminder sweep failed")
	}
	return c.JSON(entity.NewSuccessResponse(result, "Reminder sweep finished"))
}

func (h *SignRequestHandler) RunRetry(c *fiber.Ctx) error {
	result, err := h.notify.RetryFailed(c.UserContext())
	if err != nil {
		return respondError(c, h.logger, err, "Mail retry failed")
	}
	return c.JSON(entity.NewSuccessResponse(result, "Mail retry finished"))
}
