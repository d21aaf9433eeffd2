package api

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/dhcgn/patchtrack/ancestry"
	"github.com/dhcgn/patchtrack/git"
	"github.com/dhcgn/patchtrack/mbox"
	"github.com/dhcgn/patchtrack/model"
	"github.com/dhcgn/patchtrack/state"
)

// Resolver determines how a commit reached a branch.
type Resolver interface {
	Resolve(ctx context.Context, branch, commit string) (model.Integration, error)
}

// Options configures the HTTP surface. Store is optional; when set, every
// resolved integration is recorded under its commit key.
type Options struct {
	Resolver Resolver
	Store    state.Store
	Logger   *slog.Logger
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

type handler struct {
	resolver Resolver
	store    state.Store
	logger   *slog.Logger
}

// New builds the fiber app serving decode and integration queries.
func New(opts Options) *fiber.App {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	h := &handler{resolver: opts.Resolver, store: opts.Store, logger: logger}

	app := fiber.New(fiber.Config{
		AppName:               "patchtrack",
		DisableStartupMessage: true,
	})

	app.Get("/healthz", h.healthz)
	app.Post("/decode", h.decode)
	app.Get("/integration/:branch/:commit", h.integration)
	if h.store != nil {
		app.Get("/records", h.records)
	}
	return app
}

func (h *handler) healthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// decode turns a raw message into its decoded form. The format query
// parameter selects json (default), markdown or html output.
func (h *handler) decode(c *fiber.Ctx) error {
	msg := mbox.Decode(c.Body())

	switch strings.ToLower(c.Query("format", "json")) {
	case "json":
		return c.JSON(msg)
	case "markdown", "md":
		c.Set(fiber.HeaderContentType, "text/markdown; charset=utf-8")
		return c.SendString(mbox.Markdown(msg))
	case "html":
		out, err := mbox.HTML(msg)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
		}
		c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
		return c.SendString(out)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "unknown format " + c.Query("format")})
	}
}

func (h *handler) integration(c *fiber.Ctx) error {
	if h.resolver == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "no repository configured"})
	}

	// Branch names such as maint/2.45 arrive with the slash escaped.
	branch, err := url.PathUnescape(c.Params("branch"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}
	commit := c.Params("commit")

	result, err := h.resolver.Resolve(c.UserContext(), branch, commit)
	switch {
	case errors.Is(err, ancestry.ErrEmptyCommit), errors.Is(err, ancestry.ErrInvalidName), errors.Is(err, git.ErrInvalidRevision):
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	case errors.Is(err, ancestry.ErrUnknownCommit):
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})
	case errors.Is(err, ancestry.ErrMalformedListing):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(ErrorResponse{Error: err.Error()})
	case err != nil:
		h.logger.Warn("resolve failed", "branch", branch, "commit", commit, "err", err)
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{Error: err.Error()})
	}

	if h.store != nil {
		if err := h.store.Set(c.UserContext(), state.CommitKey(commit), result); err != nil {
			h.logger.Warn("record integration failed", "commit", commit, "err", err)
		}
	}
	return c.JSON(result)
}

func (h *handler) records(c *fiber.Ctx) error {
	keys, err := h.store.Keys(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	if prefix := c.Query("prefix"); prefix != "" {
		filtered := keys[:0]
		for _, k := range keys {
			if strings.HasPrefix(k, prefix) {
				filtered = append(filtered, k)
			}
		}
		keys = filtered
	}
	return c.JSON(fiber.Map{"keys": keys})
}
