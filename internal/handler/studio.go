package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/makeasinger/videogen/internal/client"
	"github.com/makeasinger/videogen/internal/jobctl"
	"github.com/makeasinger/videogen/internal/middleware"
	"github.com/makeasinger/videogen/internal/model"
	"github.com/makeasinger/videogen/internal/service"
	"github.com/makeasinger/videogen/pkg/response"
)

type StudioHandler struct {
	sessions  *service.SessionService
	validator *validator.Validate
}

func NewStudioHandler(sessions *service.SessionService, v *validator.Validate) *StudioHandler {
	return &StudioHandler{
		sessions:  sessions,
		validator: v,
	}
}

// Submit handles POST /api/video/submit
// @Summary      Submit a generation job
// @Description  Replace the current job with a new one and start polling it
// @Tags         Video
// @Accept       json
// @Produce      json
// @Param        request body model.SubmitRequest true "Submit request"
// @Success      202 {object} model.Snapshot
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Failure      422 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/video/submit [post]
func (h *StudioHandler) Submit(c *fiber.Ctx) error {
	var req model.SubmitRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	snap, err := h.sessions.Submit(c.UserContext(), middleware.GetUserID(c), &req)
	switch {
	case errors.Is(err, service.ErrServiceClosed):
		return response.Unavailable(c, "Service is shutting down")
	case errors.Is(err, jobctl.ErrSuperseded):
		return response.Error(c, fiber.StatusConflict, response.CodeConflict, "Submission was superseded", snap)
	case err != nil:
		return response.Error(c, fiber.StatusBadGateway, response.CodeProviderError, "Provider rejected the job", snap)
	}

	if snap.Job != nil && snap.Job.ErrorKind == model.ErrorKindModerationBlock {
		return response.Error(c, fiber.StatusUnprocessableEntity, response.CodeModeration, snap.Job.Error, snap)
	}
	return response.Accepted(c, snap)
}

// Resume handles POST /api/video/resume/:jobId
// @Summary      Resume a suspended job
// @Description  Restart polling of a job whose polling window expired
// @Tags         Video
// @Produce      json
// @Param        jobId path string true "Job ID"
// @Success      200 {object} model.Snapshot
// @Failure      401 {object} response.ErrorResponse
// @Failure      409 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/video/resume/{jobId} [post]
func (h *StudioHandler) Resume(c *fiber.Ctx) error {
	jobID := c.Params("jobId")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	snap, err := h.sessions.Resume(middleware.GetUserID(c), jobID)
	if err != nil {
		return h.sessionError(c, err)
	}
	return response.OK(c, snap)
}

// Cancel handles POST /api/video/cancel
// @Summary      Cancel the current job
// @Description  Stop polling and forget the current job
// @Tags         Video
// @Produce      json
// @Success      200 {object} model.Snapshot
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/video/cancel [post]
func (h *StudioHandler) Cancel(c *fiber.Ctx) error {
	snap, err := h.sessions.Cancel(middleware.GetUserID(c))
	if err != nil {
		return h.sessionError(c, err)
	}
	return response.OK(c, snap)
}

// Watch handles POST /api/video/watch
// @Summary      Report a playback event
// @Description  Forward a timeupdate or ended event from the player. downloadEnabled is the state before the provider answers this event; an unlock it causes arrives as a snapshot on /ws/session
// @Tags         Video
// @Accept       json
// @Produce      json
// @Param        request body model.WatchEventRequest true "Watch event"
// @Success      200 {object} model.WatchEventResponse
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/video/watch [post]
func (h *StudioHandler) Watch(c *fiber.Ctx) error {
	var req model.WatchEventRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	resp, err := h.sessions.Watch(middleware.GetUserID(c), &req)
	if err != nil {
		return h.sessionError(c, err)
	}
	return response.OK(c, resp)
}

// State handles GET /api/video/state
// @Summary      Get the current state
// @Tags         Video
// @Produce      json
// @Success      200 {object} model.Snapshot
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/video/state [get]
func (h *StudioHandler) State(c *fiber.Ctx) error {
	snap, err := h.sessions.Snapshot(middleware.GetUserID(c))
	if err != nil {
		return h.sessionError(c, err)
	}
	return response.OK(c, snap)
}

// Download handles GET /api/video/download
// @Summary      Download the video
// @Description  Stream the completed video once the download is unlocked
// @Tags         Video
// @Produce      video/mp4
// @Success      200 {file} binary
// @Failure      401 {object} response.ErrorResponse
// @Failure      403 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      502 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/video/download [get]
func (h *StudioHandler) Download(c *fiber.Ctx) error {
	asset, err := h.sessions.Download(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return h.sessionError(c, err)
	}

	c.Set(fiber.HeaderContentType, asset.ContentType)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="video.mp4"`)
	if asset.ContentLength > 0 {
		return c.SendStream(asset.Body, int(asset.ContentLength))
	}
	return c.SendStream(asset.Body)
}

func (h *StudioHandler) sessionError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, service.ErrServiceClosed):
		return response.Unavailable(c, "Service is shutting down")
	case errors.Is(err, jobctl.ErrNotSuspended):
		return response.Conflict(c, response.CodeNotSuspended, "Job is not suspended")
	case errors.Is(err, jobctl.ErrNoJob):
		return response.NotFound(c, "No completed job")
	case errors.Is(err, jobctl.ErrDownloadLocked), client.IsDownloadLocked(err):
		return response.DownloadLocked(c)
	}

	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return response.ProviderError(c, "Provider returned status "+strconv.Itoa(apiErr.StatusCode))
	}
	return response.ProviderError(c, err.Error())
}
