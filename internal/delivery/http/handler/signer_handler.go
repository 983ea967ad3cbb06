package handler

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"sign-vrtl/internal/delivery/http/middleware"
	"sign-vrtl/internal/domain/entity"
	"sign-vrtl/internal/usecase"
)

// SignerHandler serves the token-authorized routes used by signers
type SignerHandler struct {
	access usecase.AccessUsecase
	items  usecase.SignItemUsecase
	logger *zap.Logger
}

func NewSignerHandler(access usecase.AccessUsecase, items usecase.SignItemUsecase, logger *zap.Logger) *SignerHandler {
	return &SignerHandler{
		access: access,
		items:  items,
		logger: logger,
	}
}

type SignBody struct {
	Signature string `json:"signature"` // base64 or data URL
	Timestamp string `json:"timestamp"`
	Exp       string `json:"exp"`
}

type RefuseBody struct {
	Reason    string `json:"reason"`
	Timestamp string `json:"timestamp"`
	Exp       string `json:"exp"`
}

// link returns the expiring link parameters when the signer arrived through one
func link(timestamp, exp string) *usecase.SignedLink {
	if timestamp == "" && exp == "" {
		return nil
	}
	return &usecase.SignedLink{Timestamp: timestamp, Signature: exp}
}

// Open godoc
// @Summary Open a document with a request or signer token
// @Tags signer
// @Produce json
// @Param requestId path int true "Sign request ID"
// @Param token path string true "Access token"
// @Success 200 {object} entity.APIResponse
// @Failure 403 {object} entity.APIResponse
// @Router /sign/document/{requestId}/{token} [get]
func (h *SignerHandler) Open(c *fiber.Ctx) error {
	id, err := publicID(c, "requestId")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}
	view, err := h.access.OpenByRequestToken(c.UserContext(), id, c.Params("token"), middleware.Actor(c))
	if err != nil {
		return respondError(c, h.logger, err, "Failed to open document")
	}
	return c.JSON(entity.NewSuccessResponse(view, "Document opened"))
}

// OpenFromMail godoc
// @Summary Open a document from an access mail link
// @Tags signer
// @Produce json
// @Param requestId path int true "Sign request ID"
// @Param token path string true "Signer token"
// @Param timestamp query string true "Link expiry"
// @Param exp query string true "Link signature"
// @Success 200 {object} entity.APIResponse
// @Failure 403 {object} entity.APIResponse
// @Router /sign/document/mail/{requestId}/{token} [get]
func (h *SignerHandler) OpenFromMail(c *fiber.Ctx) error {
	id, err := publicID(c, "requestId")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}
	signed := usecase.SignedLink{Timestamp: c.Query("timestamp"), Signature: c.Query("exp")}
	view, err := h.access.OpenBySignedLink(c.UserContext(), id, c.Params("token"), signed, middleware.Actor(c))
	if err != nil {
		return respondError(c, h.logger, err, "Failed to open document")
	}
	return c.JSON(entity.NewSuccessResponse(view, "Document opened"))
}

func (h *SignerHandler) Completed(c *fiber.Ctx) error {
	id, err := publicID(c, "requestId")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}
	file, err := h.access.CompletedDocument(c.UserContext(), id, c.Params("token"), middleware.Actor(c))
	if err != nil {
		return respondError(c, h.logger, err, "Failed to load completed document")
	}
	c.Set(fiber.HeaderContentType, file.ContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", file.Name))
	return c.Send(file.Data)
}

func (h *SignerHandler) Sign(c *fiber.Ctx) error {
	id, err := publicID(c, "requestId")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}
	var body SignBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}
	item, err := h.items.Sign(c.UserContext(), &usecase.SignInput{
		RequestID:        id,
		Token:            c.Params("token"),
		EncodedSignature: body.Signature,
		Link:             link(body.Timestamp, body.Exp),
	}, middleware.Actor(c))
	if err != nil {
		return respondError(c, h.logger, err, "Failed to sign document")
	}
	return c.JSON(entity.NewSuccessResponse(item, "Document signed"))
}

func (h *SignerHandler) Refuse(c *fiber.Ctx) error {
	id, err := publicID(c, "requestId")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}
	var body RefuseBody
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}

	item, err := h.items.Refuse(c.UserContext(), &usecase.RefuseInput{
		RequestID: id,
		Token:     c.Params("token"),
		Reason:    body.Reason,
		Link:      link(body.Timestamp, body.Exp),
	}, middleware.Actor(c))
	if err != nil {
		return respondError(c, h.logger, err, "Failed to refuse document")
	}
	return c.JSON(entity.NewSuccessResponse(item, "Document refused"))
}

func (h *SignerHandler) Save(c *fiber.Ctx) error {
	id, err := publicID(c, "requestId")
	if err != nil {
		return respondError(c, h.logger, err, "")
	}
	if err := h.access.Save(c.UserContext(), id, c.Params("token"), middleware.Actor(c)); err != nil {
		return respondError(c, h.logger, err, "Failed to save document")
	}
	return c.JSON(entity.NewSuccessResponse(nil, "Document saved"))
}
