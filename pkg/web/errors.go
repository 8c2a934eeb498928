package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/dukex/jobflow/pkg/engine"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func conflict(c fiber.Ctx, kind, detail string) error {
	problem := problems.NewStatusProblem(409).
		WithInstance(c.Path()).
		WithType(kind).
		WithDetail(detail)

	return c.Status(fiber.StatusConflict).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps the errors the engine lets reach callers to
// problem responses.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case engine.IsNotFound(err):
		return notFound(c, "workflow_not_found", "workflow not found")
	case errors.Is(err, engine.ErrCoverLetterNotAvailable):
		return notFound(c, "cover_letter_not_available", "cover letter not available")
	case engine.IsInvalidTransition(err):
		return conflict(c, "invalid_transition", err.Error())
	case errors.Is(err, engine.ErrInvalidInput), errors.Is(err, engine.ErrInvalidSignal):
		return badRequest(c, err.Error())
	default:
		return internalError(c, err)
	}
}
