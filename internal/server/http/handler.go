package http

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"daochess/internal/server/core"
	"daochess/internal/server/processor"
	"daochess/internal/server/service"
)

const (
	rateLimitRate = 10 // req/sec
	retryAfter    = "2"
)

// HTTPHandler handles HTTP requests and routes them to the processor
type HTTPHandler struct {
	proc    *processor.Processor
	svc     *service.Service
	timeout time.Duration
}

func NewHTTPHandler(proc *processor.Processor, svc *service.Service, requestTimeout time.Duration) *HTTPHandler {
	return &HTTPHandler{proc: proc, svc: svc, timeout: requestTimeout}
}

func NewFiberApp(proc *processor.Processor, svc *service.Service, devMode bool, requestTimeout time.Duration) *fiber.App {
	h := NewHTTPHandler(proc, svc, requestTimeout)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: service.WaitTimeout + requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	})

	// Global middleware (order matters)
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Health check (no rate limit)
	app.Get("/health", h.Health)

	api := app.Group("/api/v1")

	maxReq := rateLimitRate
	if devMode {
		maxReq = rateLimitRate * 2
	}
	api.Use(limiter.New(limiter.Config{
		Max:        maxReq,
		Expiration: 1 * time.Second,
		KeyGenerator: func(c *fiber.Ctx) string {
			if xff := c.Get("X-Forwarded-For"); xff != "" {
				if idx := strings.Index(xff, ","); idx != -1 {
					return strings.TrimSpace(xff[:idx])
				}
				return xff
			}
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(core.ErrorResponse{
				Error:   "rate limit exceeded",
				Code:    core.ErrRateLimitExceeded,
				Details: fmt.Sprintf("%d requests per second allowed", maxReq),
			})
		},
	}))

	api.Use(contentTypeValidator)
	api.Use(validationMiddleware)

	api.Post("/games", h.CreateGame)
	api.Get("/games", h.ListGames)
	api.Get("/games/:gameId", h.GetGame)
	api.Post("/games/:gameId/votes", h.SubmitVote)
	api.Post("/games/:gameId/finalize", h.FinalizeTurn)
	api.Get("/games/:gameId/power/:address", h.VotingPower)

	return app
}

// contentTypeValidator ensures POST requests have application/json
func contentTypeValidator(c *fiber.Ctx) error {
	if c.Method() == fiber.MethodPost {
		contentType := c.Get("Content-Type")
		if contentType != "" && !strings.HasPrefix(contentType, fiber.MIMEApplicationJSON) {
			return c.Status(fiber.StatusUnsupportedMediaType).JSON(core.ErrorResponse{
				Error:   "unsupported media type",
				Code:    core.ErrInvalidContent,
				Details: "Content-Type must be application/json",
			})
		}
	}
	return c.Next()
}

// customErrorHandler provides consistent error responses
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	response := core.ErrorResponse{
		Error: "internal server error",
		Code:  core.ErrInternalError,
	}

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		response.Error = e.Message

		switch code {
		case fiber.StatusNotFound:
			response.Code = core.ErrInvalidRequest
			response.Details = "no such route"
		case fiber.StatusBadRequest, fiber.StatusMethodNotAllowed:
			response.Code = core.ErrInvalidRequest
		case fiber.StatusTooManyRequests:
			response.Code = core.ErrRateLimitExceeded
		}
	}

	return c.Status(code).JSON(response)
}

// statusFor maps an error code onto an HTTP status
func statusFor(code string) int {
	switch code {
	case core.ErrGameNotFound:
		return fiber.StatusNotFound
	case core.ErrAlreadyVoted, core.ErrDuplicatePairing, core.ErrWindowStillOpen,
		core.ErrWindowClosedPending, core.ErrNoProposals, core.ErrGameOver:
		return fiber.StatusConflict
	case core.ErrIllegalMove, core.ErrInvalidParameters, core.ErrInvalidRequest:
		return fiber.StatusBadRequest
	case core.ErrBadSignature:
		return fiber.StatusUnauthorized
	case core.ErrNoVotingPower:
		return fiber.StatusForbidden
	case core.ErrStoreUnavailable, core.ErrOracleUnavailable:
		return fiber.StatusServiceUnavailable
	case core.ErrRequestCancelled:
		return fiber.StatusRequestTimeout
	default:
		return fiber.StatusInternalServerError
	}
}

// respond writes a processor response with the matching status
func respond(c *fiber.Ctx, resp processor.ProcessorResponse, okStatus int) error {
	if !resp.Success {
		if resp.Error.Retryable {
			c.Set(fiber.HeaderRetryAfter, retryAfter)
		}
		return c.Status(statusFor(resp.Error.Code)).JSON(resp.Error)
	}
	return c.Status(okStatus).JSON(resp.Data)
}

func (h *HTTPHandler) context(c *fiber.Ctx, extra time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), h.timeout+extra)
}

// validatedBody returns the body parsed by validationMiddleware
func validatedBody[T any](c *fiber.Ctx) (T, bool) {
	var zero T
	validated, ok := c.Locals("validated").(bool)
	if !ok || !validated {
		c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "validation bypass detected",
			Code:  core.ErrInternalError,
		})
		return zero, false
	}
	body, ok := c.Locals("validatedBody").(*T)
	if !ok || body == nil {
		c.Status(fiber.StatusInternalServerError).JSON(core.ErrorResponse{
			Error: "validation data missing",
			Code:  core.ErrInternalError,
		})
		return zero, false
	}
	return *body, true
}

// gameIDParam rejects ids that are not UUIDs
func gameIDParam(c *fiber.Ctx) (string, bool) {
	gameID := c.Params("gameId")
	if !isValidUUID(gameID) {
		c.Status(fiber.StatusBadRequest).JSON(core.ErrorResponse{
			Error:   "invalid game ID format",
			Code:    core.ErrInvalidRequest,
			Details: "game ID must be a valid UUID",
		})
		return "", false
	}
	return gameID, true
}

// Health check endpoint with storage status
func (h *HTTPHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "healthy",
		"time":    time.Now().Unix(),
		"storage": h.svc.GetStorageHealth(),
	})
}

// CreateGame registers a new match between two DAOs
func (h *HTTPHandler) CreateGame(c *fiber.Ctx) error {
	req, ok := validatedBody[core.CreateGameRequest](c)
	if !ok {
		return nil
	}

	ctx, cancel := h.context(c, 0)
	defer cancel()
	return respond(c, h.proc.Execute(ctx, processor.NewCreateGameCommand(req)), fiber.StatusCreated)
}

// ListGames returns the registry
func (h *HTTPHandler) ListGames(c *fiber.Ctx) error {
	ctx, cancel := h.context(c, 0)
	defer cancel()
	return respond(c, h.proc.Execute(ctx, processor.NewListGamesCommand()), fiber.StatusOK)
}

// GetGame returns the game document; with wait=true it long-polls until
// moveIndex or the voter count differs from the query values
func (h *HTTPHandler) GetGame(c *fiber.Ctx) error {
	gameID, ok := gameIDParam(c)
	if !ok {
		return nil
	}

	if c.Query("wait", "false") != "true" {
		ctx, cancel := h.context(c, 0)
		defer cancel()
		return respond(c, h.proc.Execute(ctx, processor.NewGetGameCommand(gameID)), fiber.StatusOK)
	}

	seen := service.Progress{
		MoveIndex: queryInt(c, "moveIndex"),
		Voters:    queryInt(c, "voters"),
	}
	ctx, cancel := h.context(c, service.WaitTimeout)
	defer cancel()
	return respond(c, h.proc.Execute(ctx, processor.NewWaitGameCommand(gameID, seen)), fiber.StatusOK)
}

// SubmitVote proposes a move or adds weight to an existing proposal
func (h *HTTPHandler) SubmitVote(c *fiber.Ctx) error {
	gameID, ok := gameIDParam(c)
	if !ok {
		return nil
	}
	req, ok := validatedBody[core.VoteRequest](c)
	if !ok {
		return nil
	}

	ctx, cancel := h.context(c, 0)
	defer cancel()
	return respond(c, h.proc.Execute(ctx, processor.NewVoteCommand(gameID, req)), fiber.StatusOK)
}

// FinalizeTurn commits the winning proposal of a closed window
func (h *HTTPHandler) FinalizeTurn(c *fiber.Ctx) error {
	gameID, ok := gameIDParam(c)
	if !ok {
		return nil
	}

	ctx, cancel := h.context(c, 0)
	defer cancel()
	return respond(c, h.proc.Execute(ctx, processor.NewFinalizeCommand(gameID)), fiber.StatusOK)
}

// VotingPower reports an address' weight for the side to move
func (h *HTTPHandler) VotingPower(c *fiber.Ctx) error {
	gameID, ok := gameIDParam(c)
	if !ok {
		return nil
	}

	ctx, cancel := h.context(c, 0)
	defer cancel()
	return respond(c, h.proc.Execute(ctx, processor.NewVotingPowerCommand(gameID, c.Params("address"))), fiber.StatusOK)
}

// queryInt parses a non-negative query value, -1 when absent or malformed
func queryInt(c *fiber.Ctx, key string) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil || n < 0 {
		return -1
	}
	return n
}
