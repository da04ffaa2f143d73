package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/makeasinger/videogen/internal/model"
	"github.com/makeasinger/videogen/internal/service"
	"github.com/makeasinger/videogen/pkg/response"
)

// ProviderHandler serves the generation provider API polled by job controllers.
type ProviderHandler struct {
	service   *service.ProviderService
	validator *validator.Validate
	logger    zerolog.Logger
}

func NewProviderHandler(svc *service.ProviderService, v *validator.Validate, logger zerolog.Logger) *ProviderHandler {
	return &ProviderHandler{
		service:   svc,
		validator: v,
		logger:    logger,
	}
}

// Create handles POST /jobs
// @Summary      Create a generation job
// @Tags         Provider
// @Accept       json
// @Produce      json
// @Param        request body model.CreateJobRequest true "Create request"
// @Success      202 {object} model.CreateJobResponse
// @Failure      400 {object} model.ProviderError
// @Failure      401 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     ApiKeyAuth
// @Router       /jobs [post]
func (h *ProviderHandler) Create(c *fiber.Ctx) error {
	var req model.CreateJobRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	result, err := h.service.CreateJob(c.UserContext(), &req)
	if err != nil {
		if errors.Is(err, service.ErrModerationBlocked) {
			return c.Status(fiber.StatusBadRequest).JSON(model.ProviderError{
				ErrorKind: model.ErrorKindModerationBlock,
				Message:   err.Error(),
			})
		}
		h.logger.Error().Err(err).Msg("provider: create job failed")
		return response.ServiceError(c, "Failed to create job")
	}

	return response.Accepted(c, result)
}

// Status handles GET /jobs/:id/status
// @Summary      Get job status
// @Tags         Provider
// @Produce      json
// @Param        id    path  string true  "Job ID"
// @Param        model query string false "Model name"
// @Success      200 {object} model.RawStatus
// @Failure      404 {object} response.ErrorResponse
// @Security     ApiKeyAuth
// @Router       /jobs/{id}/status [get]
func (h *ProviderHandler) Status(c *fiber.Ctx) error {
	status, err := h.service.GetStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.jobError(c, err)
	}
	return response.OK(c, status)
}

// Progress handles POST /jobs/:id/progress
// @Summary      Report watch progress
// @Description  Record playback of a completed job and return the download unlock state
// @Tags         Provider
// @Accept       json
// @Produce      json
// @Param        id      path string               true "Job ID"
// @Param        request body model.ProgressReport true "Progress report"
// @Success      200 {object} model.ProgressResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     ApiKeyAuth
// @Router       /jobs/{id}/progress [post]
func (h *ProviderHandler) Progress(c *fiber.Ctx) error {
	var req model.ProgressReport
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	result, err := h.service.ReportProgress(c.UserContext(), c.Params("id"), &req)
	if err != nil {
		return h.jobError(c, err)
	}
	return response.OK(c, result)
}

// Download handles GET /jobs/:id/download
// @Summary      Download a job's video
// @Description  Redirects to a presigned URL or streams the asset once unlocked
// @Tags         Provider
// @Produce      video/mp4
// @Param        id path string true "Job ID"
// @Success      200 {file} binary
// @Success      302
// @Failure      403 {object} model.ProviderError
// @Failure      404 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     ApiKeyAuth
// @Router       /jobs/{id}/download [get]
func (h *ProviderHandler) Download(c *fiber.Ctx) error {
	src, err := h.service.Download(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, service.ErrDownloadLocked) {
			return c.Status(fiber.StatusForbidden).JSON(model.ProviderError{
				ErrorKind: model.ErrorKindDownloadLocked,
				Message:   err.Error(),
			})
		}
		return h.jobError(c, err)
	}

	if src.RedirectURL != "" {
		return c.Redirect(src.RedirectURL, fiber.StatusFound)
	}
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+c.Params("id")+`.mp4"`)
	return sendAsset(c, src)
}

// Play handles GET /jobs/:id/play
// @Summary      Stream a job's video for playback
// @Tags         Provider
// @Produce      video/mp4
// @Param        id    path  string true "Job ID"
// @Param        token query string true "Play token"
// @Success      200 {file} binary
// @Failure      403 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Router       /jobs/{id}/play [get]
func (h *ProviderHandler) Play(c *fiber.Ctx) error {
	src, err := h.service.Play(c.UserContext(), c.Params("id"), c.Query("token"))
	if err != nil {
		return h.jobError(c, err)
	}
	return sendAsset(c, src)
}

func sendAsset(c *fiber.Ctx, src *service.AssetSource) error {
	asset := src.Asset
	c.Set(fiber.HeaderContentType, asset.ContentType)
	if asset.ContentLength > 0 {
		return c.SendStream(asset.Body, int(asset.ContentLength))
	}
	return c.SendStream(asset.Body)
}

func (h *ProviderHandler) jobError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrJobNotFound):
		return response.NotFound(c, "Job not found")
	case errors.Is(err, service.ErrJobNotCompleted):
		return response.Conflict(c, response.CodeConflict, "Job not completed yet")
	case errors.Is(err, service.ErrInvalidPlayToken):
		return response.Forbidden(c, "Invalid or expired play token")
	}
	h.logger.Error().Err(err).Str("job_id", c.Params("id")).Msg("provider: request failed")
	return response.ServiceError(c, err.Error())
}
