package handler

import (
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/tunesmith/api/internal/model"
	"github.com/tunesmith/api/internal/queue"
	"github.com/tunesmith/api/internal/store"
	"github.com/tunesmith/api/pkg/response"
)

type JobHandler struct {
	queue     *queue.Service
	validator *validator.Validate
}

func NewJobHandler(q *queue.Service, v *validator.Validate) *JobHandler {
	return &JobHandler{
		queue:     q,
		validator: v,
	}
}

// Create handles POST /api/jobs
func (h *JobHandler) Create(c *fiber.Ctx) error {
	var req model.JobCreateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	if err := h.validatePayload(req.JobType, req.RequestData); err != nil {
		return response.ValidationError(c, "Invalid request payload", formatValidationErrors(err))
	}

	job, err := h.queue.Enqueue(c.Context(), req.JobType, req.RequestData, req.Priority)
	if err != nil {
		return h.mapError(c, err)
	}

	return response.Created(c, job)
}

// validatePayload checks request_data against the schema for the job type.
func (h *JobHandler) validatePayload(jobType model.JobType, data json.RawMessage) error {
	var payload interface{}
	switch jobType {
	case model.JobTypeGeneration:
		payload = &model.GenerationRequest{}
	case model.JobTypeLoop:
		payload = &model.LoopRequest{}
	case model.JobTypeMetadataBatch:
		payload = &model.MetadataBatchRequest{}
	default:
		return errors.New("unknown job type")
	}

	if err := json.Unmarshal(data, payload); err != nil {
		return err
	}
	return h.validator.Struct(payload)
}

// Get handles GET /api/jobs/:id
func (h *JobHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.queue.Get(c.Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return response.OK(c, job)
}

// List handles GET /api/jobs
func (h *JobHandler) List(c *fiber.Ctx) error {
	filter := store.JobFilter{
		Limit:  c.QueryInt("limit", 20),
		Offset: c.QueryInt("offset", 0),
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	if s := c.Query("status"); s != "" {
		status := model.JobStatus(s)
		if !status.IsValid() {
			return response.ValidationError(c, "Unknown status", nil)
		}
		filter.Status = status
	}
	if t := c.Query("type"); t != "" {
		jobType := model.JobType(t)
		if !jobType.IsValid() {
			return response.ValidationError(c, "Unknown job type", nil)
		}
		filter.JobType = jobType
	}

	jobs, total, err := h.queue.List(c.Context(), filter)
	if err != nil {
		return h.mapError(c, err)
	}

	return response.OK(c, model.JobListResponse{
		Jobs: jobs,
		Pagination: model.Pagination{
			Total:  total,
			Limit:  filter.Limit,
			Offset: filter.Offset,
		},
	})
}

// Progress handles POST /api/jobs/:id/progress
func (h *JobHandler) Progress(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	var req model.ProgressUpdateRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	job, err := h.queue.UpdateProgress(c.Context(), id, req.Progress, req.Message)
	if err != nil {
		return h.mapError(c, err)
	}
	return response.OK(c, job)
}

// Cancel handles POST /api/jobs/:id/cancel
func (h *JobHandler) Cancel(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	job, err := h.queue.Cancel(c.Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return response.OK(c, job)
}

// Delete handles DELETE /api/jobs/:id
func (h *JobHandler) Delete(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	if err := h.queue.Delete(c.Context(), id); err != nil {
		return h.mapError(c, err)
	}
	return response.OK(c, fiber.Map{"id": id, "deleted": true})
}

// Stats handles GET /api/jobs/stats
func (h *JobHandler) Stats(c *fiber.Ctx) error {
	var jobType model.JobType
	if t := c.Query("type"); t != "" {
		jobType = model.JobType(t)
		if !jobType.IsValid() {
			return response.ValidationError(c, "Unknown job type", nil)
		}
	}

	stats, err := h.queue.Stats(c.Context(), jobType)
	if err != nil {
		return h.mapError(c, err)
	}
	return response.OK(c, stats)
}

// Events handles GET /api/jobs/:id/events
func (h *JobHandler) Events(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	events, err := h.queue.Events(c.Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return response.OK(c, fiber.Map{"events": events})
}

// mapError translates queue errors into HTTP responses.
func (h *JobHandler) mapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		return response.NotFound(c, err.Error())
	case errors.Is(err, queue.ErrConflict):
		return response.Conflict(c, err.Error())
	case errors.Is(err, queue.ErrValidation):
		return response.ValidationError(c, err.Error(), nil)
	case errors.Is(err, queue.ErrUnavailable):
		return response.Unavailable(c, err.Error())
	default:
		return response.ServiceError(c, err.Error())
	}
}
