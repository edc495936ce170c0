package handler

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/readmaster-api/internal/dto"
	"github.com/noah-isme/readmaster-api/internal/service"
	"github.com/noah-isme/readmaster-api/internal/utils"
)

// AssessmentHandler exposes the reading assessment lifecycle.
type AssessmentHandler struct {
	service service.AssessmentService
	logger  zerolog.Logger
}

// NewAssessmentHandler builds an assessment handler instance.
func NewAssessmentHandler(service service.AssessmentService, logger zerolog.Logger) *AssessmentHandler {
	return &AssessmentHandler{
		service: service,
		logger:  logger.With().Str("component", "assessment_handler").Logger(),
	}
}

// Register attaches the routes to the provided router group. uploadLimiter
// guards credential issuance and may be nil.
func (h *AssessmentHandler) Register(router fiber.Router, uploadLimiter fiber.Handler) {
	router.Post("", h.create)
	router.Get("/:id", h.get)
	router.Get("/:id/result", h.result)
	if uploadLimiter != nil {
		router.Post("/:id/upload-url", uploadLimiter, h.uploadURL)
	} else {
		router.Post("/:id/upload-url", h.uploadURL)
	}
	router.Post("/:id/confirm-upload", h.confirmUpload)
	router.Post("/:id/quiz", h.submitQuiz)
}

func (h *AssessmentHandler) create(c *fiber.Ctx) error {
	var payload dto.AssessmentCreateRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	assessment, err := h.service.Create(requestContext(c), requesterFromContext(c), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusCreated, "assessment created", assessment)
}

func (h *AssessmentHandler) get(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "assessment id required")
	}

	assessment, err := h.service.Get(requestContext(c), id, requesterFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "assessment retrieved", assessment)
}

func (h *AssessmentHandler) result(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "assessment id required")
	}

	result, err := h.service.Result(requestContext(c), id, requesterFromContext(c))
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "assessment result", result)
}

func (h *AssessmentHandler) uploadURL(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "assessment id required")
	}

	var payload dto.UploadURLRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	target, err := h.service.RequestUploadURL(requestContext(c), id, requesterFromContext(c), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "upload url issued", target)
}

func (h *AssessmentHandler) confirmUpload(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "assessment id required")
	}

	var payload dto.ConfirmUploadRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	assessment, err := h.service.ConfirmUpload(requestContext(c), id, requesterFromContext(c), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccessWithStatus(c, fiber.StatusAccepted, "audio upload confirmed", assessment)
}

func (h *AssessmentHandler) submitQuiz(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return utils.SendError(c, fiber.StatusBadRequest, "assessment id required")
	}

	var payload dto.QuizSubmissionRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	score, err := h.service.SubmitQuiz(requestContext(c), id, requesterFromContext(c), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err)
	}

	return utils.SendSuccess(c, "quiz submitted", score)
}
