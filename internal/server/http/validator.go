package http

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"daochess/internal/server/core"
)

var validate = validator.New()

// validationMiddleware parses and validates JSON bodies by route
func validationMiddleware(c *fiber.Ctx) error {
	// Only POST routes carry a body
	method := c.Method()
	if method != fiber.MethodPost {
		return c.Next()
	}

	// Determine request type based on path
	path := c.Path()
	var requestType any
	code := core.ErrInvalidRequest

	switch {
	case strings.HasSuffix(path, "/games"):
		requestType = &core.CreateGameRequest{}
		code = core.ErrInvalidParameters
	case strings.HasSuffix(path, "/votes"):
		requestType = &core.VoteRequest{}
	default:
		return c.Next() // No body on other endpoints
	}

	if err := c.BodyParser(requestType); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error:   "invalid request body",
			Code:    code,
			Details: err.Error(),
		})
	}

	if errs := validate.Struct(requestType); errs != nil {
		var verrs validator.ValidationErrors
		if !errors.As(errs, &verrs) {
			return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
				Error:   "validation failed",
				Code:    code,
				Details: errs.Error(),
			})
		}

		var details strings.Builder
		for _, err := range verrs {
			if details.Len() > 0 {
				details.WriteString("; ")
			}
			switch err.Tag() {
			case "required":
				details.WriteString(fmt.Sprintf("%s is required", err.Namespace()))
			case "len":
				details.WriteString(fmt.Sprintf("%s must have exactly %s entries", err.Namespace(), err.Param()))
			case "eth_addr":
				details.WriteString(fmt.Sprintf("%s must be a 0x-prefixed 20-byte hex address", err.Namespace()))
			case "min":
				if err.Kind() == reflect.String {
					details.WriteString(fmt.Sprintf("%s must be at least %s characters", err.Namespace(), err.Param()))
				} else {
					details.WriteString(fmt.Sprintf("%s must be at least %s", err.Namespace(), err.Param()))
				}
			case "max":
				if err.Kind() == reflect.String {
					details.WriteString(fmt.Sprintf("%s must be at most %s characters", err.Namespace(), err.Param()))
				} else {
					details.WriteString(fmt.Sprintf("%s must be at most %s", err.Namespace(), err.Param()))
				}
			default:
				details.WriteString(fmt.Sprintf("%s failed %s validation", err.Namespace(), err.Tag()))
			}
		}

		return c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error:   "validation failed",
			Code:    code,
			Details: details.String(),
		})
	}

	// Store validated body for handler use
	c.Locals("validatedBody", requestType)
	c.Locals("validated", true)

	return c.Next()
}

func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
