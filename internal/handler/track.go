package handler

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/tunesmith/api/internal/model"
	"github.com/tunesmith/api/internal/queue"
	"github.com/tunesmith/api/pkg/response"
)

type TrackHandler struct {
	queue     *queue.Service
	validator *validator.Validate
}

func NewTrackHandler(q *queue.Service, v *validator.Validate) *TrackHandler {
	return &TrackHandler{
		queue:     q,
		validator: v,
	}
}

// Get handles GET /api/tracks/:id
func (h *TrackHandler) Get(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Track ID is required", nil)
	}

	track, err := h.queue.GetTrack(c.Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}
	return response.OK(c, track)
}

// List handles GET /api/tracks
func (h *TrackHandler) List(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 20)
	offset := c.QueryInt("offset", 0)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	tracks, total, err := h.queue.ListTracks(c.Context(), limit, offset)
	if err != nil {
		return h.mapError(c, err)
	}

	return response.OK(c, model.TrackListResponse{
		Tracks: tracks,
		Pagination: model.Pagination{
			Total:  total,
			Limit:  limit,
			Offset: offset,
		},
	})
}

// PatchMetadata handles PATCH /api/tracks/:id/metadata
func (h *TrackHandler) PatchMetadata(c *fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return response.ValidationError(c, "Track ID is required", nil)
	}

	var req model.MetadataPatchRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}
	if err := h.validator.Struct(&req); err != nil {
		return response.ValidationError(c, "Validation failed", formatValidationErrors(err))
	}

	track, err := h.queue.UpdateTrackMetadata(c.Context(), id, req.Metadata)
	if err != nil {
		return h.mapError(c, err)
	}
	return response.OK(c, track)
}

func (h *TrackHandler) mapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		return response.NotFound(c, err.Error())
	case errors.Is(err, queue.ErrUnavailable):
		return response.Unavailable(c, err.Error())
	default:
		return response.ServiceError(c, err.Error())
	}
}
