// Package api exposes the deployer over HTTP: on-demand selections, task
// runs, run history, content selectors and component ingestion.
package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"component-deployer/internal/config"
	"component-deployer/internal/runstate"
	"component-deployer/internal/storage"
	"component-deployer/internal/store"
	"component-deployer/internal/task"
)

// Handler serves the /api routes.
type Handler struct {
	runner       *task.Runner
	store        *store.Store
	selectors    *store.Selectors
	states       *runstate.Store
	blobs        *storage.LocalStorage
	maxAssetSize int64
	log          zerolog.Logger
}

// Deps wires a Handler.
type Deps struct {
	Runner       *task.Runner
	Store        *store.Store
	Selectors    *store.Selectors
	States       *runstate.Store
	Blobs        *storage.LocalStorage
	MaxAssetSize int64
	Logger       zerolog.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		runner:       d.Runner,
		store:        d.Store,
		selectors:    d.Selectors,
		states:       d.States,
		blobs:        d.Blobs,
		maxAssetSize: d.MaxAssetSize,
		log:          d.Logger,
	}
}

type selectionRequest struct {
	Repository             string               `json:"repository"`
	Filter                 string               `json:"filter"`
	Selector               string               `json:"selector"`
	FreshnessOffsetMinutes int                  `json:"freshness_offset_minutes"`
	Watermark              int64                `json:"watermark"`
	Checks                 []config.CheckConfig `json:"checks"`
	Settings               map[string]any       `json:"settings"`
}

// Select handles POST /api/selections. It runs the selection without
// reading or writing task state.
func (h *Handler) Select(c *fiber.Ctx) error {
	var body selectionRequest
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayload("Invalid request body")
	}
	if body.Repository == "" {
		return InvalidPayload("repository is required")
	}
	if body.FreshnessOffsetMinutes < 0 {
		return InvalidPayload("freshness_offset_minutes must not be negative")
	}

	ctx := h.log.With().Str("request", "selection").Logger().WithContext(c.UserContext())
	res, err := h.runner.DryRun(ctx, config.TaskConfig{
		Name:                   "adhoc",
		Repository:             body.Repository,
		Filter:                 body.Filter,
		Selector:               body.Selector,
		FreshnessOffsetMinutes: body.FreshnessOffsetMinutes,
		Checks:                 body.Checks,
		Settings:               body.Settings,
	}, body.Watermark)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": selectionOf(res)})
}

type taskView struct {
	Name            string `json:"name"`
	Repository      string `json:"repository"`
	Filter          string `json:"filter"`
	Selector        string `json:"selector,omitempty"`
	IntervalSeconds int    `json:"interval_seconds"`
	Watermark       int64  `json:"watermark"`
	LastRunID       string `json:"last_run_id,omitempty"`
}

// ListTasks handles GET /api/tasks.
func (h *Handler) ListTasks(c *fiber.Ctx) error {
	out := []taskView{}
	for _, name := range h.runner.Tasks() {
		cfg, _ := h.runner.Task(name)
		st, err := h.states.Get(name)
		if err != nil {
			return err
		}
		out = append(out, taskView{
			Name:            cfg.Name,
			Repository:      cfg.Repository,
			Filter:          cfg.Filter,
			Selector:        cfg.Selector,
			IntervalSeconds: cfg.IntervalSeconds,
			Watermark:       st.Watermark,
			LastRunID:       st.LastRunID,
		})
	}
	return c.JSON(fiber.Map{"data": out})
}

// RunTask handles POST /api/tasks/:name/run.
func (h *Handler) RunTask(c *fiber.Ctx) error {
	out, err := h.runner.Run(c.UserContext(), c.Params("name"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": out.Summary})
}

// ResetWatermark handles PUT /api/tasks/:name/watermark. A watermark of 0
// makes the next run start from scratch.
func (h *Handler) ResetWatermark(c *fiber.Ctx) error {
	name := c.Params("name")
	if _, ok := h.runner.Task(name); !ok {
		return fmt.Errorf("%w: %s", task.ErrUnknownTask, name)
	}
	var body struct {
		Watermark int64 `json:"watermark"`
	}
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayload("Invalid request body")
	}
	if body.Watermark < 0 {
		return InvalidPayload("watermark must not be negative")
	}
	if err := h.states.Reset(name, body.Watermark, time.Now()); err != nil {
		return err
	}
	h.log.Info().Str("task", name).Int64("watermark", body.Watermark).Msg("Watermark reset")
	return c.JSON(fiber.Map{"data": fiber.Map{"task": name, "watermark": body.Watermark}})
}

// ListRuns handles GET /api/runs?task=&limit=.
func (h *Handler) ListRuns(c *fiber.Ctx) error {
	runs, err := h.store.ListRuns(c.UserContext(), c.Query("task"), c.QueryInt("limit", 50))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": runs})
}

// ListSelectors handles GET /api/selectors.
func (h *Handler) ListSelectors(c *fiber.Ctx) error {
	sels, err := h.selectors.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sels})
}

// GetSelector handles GET /api/selectors/:name.
func (h *Handler) GetSelector(c *fiber.Ctx) error {
	name := c.Params("name")
	sel, err := h.selectors.Get(c.UserContext(), name)
	if errors.Is(err, store.ErrNotFound) {
		return NotFoundError("Selector", name)
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": sel})
}

// PutSelector handles PUT /api/selectors/:name.
func (h *Handler) PutSelector(c *fiber.Ctx) error {
	var body struct {
		Expression  string `json:"expression"`
		Description string `json:"description"`
	}
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayload("Invalid request body")
	}
	sel := store.Selector{Name: c.Params("name"), Expression: body.Expression, Description: body.Description}
	if err := h.selectors.Save(c.UserContext(), sel); err != nil {
		return err
	}
	saved, err := h.selectors.Get(c.UserContext(), sel.Name)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": saved})
}

// DeleteSelector handles DELETE /api/selectors/:name.
func (h *Handler) DeleteSelector(c *fiber.Ctx) error {
	name := c.Params("name")
	if err := h.selectors.Delete(c.UserContext(), name); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("Selector", name)
		}
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// PutComponent handles POST /api/components.
func (h *Handler) PutComponent(c *fiber.Ctx) error {
	var body componentView
	if err := c.BodyParser(&body); err != nil {
		return InvalidPayload("Invalid request body")
	}
	comp, err := body.toComponent(time.Now())
	if err != nil {
		return err
	}
	if err := h.store.PutComponent(c.UserContext(), comp); err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"data": viewOf(comp)})
}

// GetComponent handles GET /api/components/:key.
func (h *Handler) GetComponent(c *fiber.Ctx) error {
	key := c.Params("key")
	comp, err := h.store.GetComponent(c.UserContext(), key)
	if errors.Is(err, store.ErrNotFound) {
		return NotFoundError("Component", key)
	}
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": viewOf(comp)})
}

// DeleteComponent handles DELETE /api/components/:key.
func (h *Handler) DeleteComponent(c *fiber.Ctx) error {
	key := c.Params("key")
	if err := h.store.DeleteComponent(c.UserContext(), key); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return NotFoundError("Component", key)
		}
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// UploadAsset handles POST /api/assets/:repository. The returned blob_ref
// goes into the asset list of an ingested component.
func (h *Handler) UploadAsset(c *fiber.Ctx) error {
	repository := c.Params("repository")
	file, err := c.FormFile("file")
	if err != nil {
		return InvalidPayload("Missing file in form data")
	}
	if h.maxAssetSize > 0 && file.Size > h.maxAssetSize {
		msg := fmt.Sprintf("File too large: %d bytes (max %d)", file.Size, h.maxAssetSize)
		return NewAppError("FILE_TOO_LARGE", 413, msg)
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open uploaded file: %w", err)
	}
	defer src.Close()

	ref, size, err := h.blobs.Save(c.UserContext(), repository, file.Filename, src)
	if err != nil {
		return fmt.Errorf("save asset: %w", err)
	}

	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"data": assetView{
			Path:        strings.TrimPrefix(file.Filename, "/"),
			ContentType: contentType,
			Size:        size,
			BlobRef:     ref,
		},
	})
}
