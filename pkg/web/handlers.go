// Package web exposes the workflow boundary operations over HTTP.
package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/jobflow/pkg/engine"
	"github.com/dukex/jobflow/pkg/models"
)

// Workflows is the boundary the handlers drive; *engine.Engine implements it.
type Workflows interface {
	StartWorkflow(ctx context.Context, applicationID string, input models.ApplicationInput) (string, error)
	SignalWorkflow(ctx context.Context, instanceID string, signal engine.Signal) error
	QueryWorkflow(ctx context.Context, instanceID string) (*models.WorkflowInstance, error)
	GetCoverLetter(ctx context.Context, instanceID string) (string, error)
	ListWorkflows(ctx context.Context) ([]*models.WorkflowInstance, error)
	History(ctx context.Context, instanceID string) ([]models.Event, error)
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	workflows Workflows
	health    HealthChecker
	validator *validator.Validate
}

func NewAPIHandlers(workflows Workflows, health HealthChecker, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		workflows: workflows,
		health:    health,
		validator: validator,
	}
}

func (h *APIHandlers) StartWorkflow(c fiber.Ctx) error {
	var req StartWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	id, err := h.workflows.StartWorkflow(c.Context(), req.ApplicationID, req.Input())
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(StartWorkflowResponse{InstanceID: id})
}

func (h *APIHandlers) ListWorkflows(c fiber.Ctx) error {
	instances, err := h.workflows.ListWorkflows(c.Context())
	if err != nil {
		return handleEngineError(c, err)
	}

	state := c.Query("state")

	workflows := make([]WorkflowResponse, 0, len(instances))

	for _, inst := range instances {
		if state != "" && string(inst.State) != state {
			continue
		}

		workflows = append(workflows, NewWorkflowResponse(inst))
	}

	return c.JSON(fiber.Map{
		"workflows":   workflows,
		"total_count": len(workflows),
	})
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	inst, err := h.workflows.QueryWorkflow(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(NewWorkflowResponse(inst))
}

func (h *APIHandlers) GetHistory(c fiber.Ctx) error {
	history, err := h.workflows.History(c.Context(), c.Params("id"))
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(fiber.Map{
		"instance_id": c.Params("id"),
		"events":      history,
	})
}

func (h *APIHandlers) GetCoverLetter(c fiber.Ctx) error {
	id := c.Params("id")

	text, err := h.workflows.GetCoverLetter(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(CoverLetterResponse{InstanceID: id, CoverLetter: text})
}

func (h *APIHandlers) UpdateStatus(c fiber.Ctx) error {
	var req UpdateStatusRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	status, err := models.ParseStatus(req.Status)
	if err != nil {
		return badRequest(c, err.Error())
	}

	return h.signal(c, engine.Signal{Type: engine.SignalUpdateStatus, Status: status})
}

func (h *APIHandlers) Archive(c fiber.Ctx) error {
	return h.signal(c, engine.Signal{Type: engine.SignalArchive})
}

func (h *APIHandlers) signal(c fiber.Ctx, signal engine.Signal) error {
	id := c.Params("id")

	err := h.workflows.SignalWorkflow(c.Context(), id, signal)
	if err != nil {
		return handleEngineError(c, err)
	}

	inst, err := h.workflows.QueryWorkflow(c.Context(), id)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(NewWorkflowResponse(inst))
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	message := "jobflow API is healthy"
	httpStatus := http.StatusOK
	check := "ok"

	if err := h.health.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		message = "jobflow API is unhealthy"
		httpStatus = http.StatusInternalServerError
		check = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"persistence": check,
		},
		"timestamp": time.Now().UTC(),
	})
}

// Register mounts the application routes on router.
func (h *APIHandlers) Register(router fiber.Router) {
	a := router.Group("/applications")
	a.Get("/", h.ListWorkflows)
	a.Post("/", h.StartWorkflow)
	a.Get("/:id", h.GetWorkflow)
	a.Get("/:id/history", h.GetHistory)
	a.Get("/:id/cover-letter", h.GetCoverLetter)
	a.Post("/:id/status", h.UpdateStatus)
	a.Post("/:id/archive", h.Archive)

	router.Get("/health", h.HealthCheck)
}
