package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/charlie0129/daytracker/internal/auth"
	"github.com/charlie0129/daytracker/internal/config"
	"github.com/charlie0129/daytracker/internal/database"
	"github.com/charlie0129/daytracker/internal/models"
	"github.com/charlie0129/daytracker/internal/planner"
	"github.com/charlie0129/daytracker/internal/repository"
	"github.com/charlie0129/daytracker/internal/rollover"
	"github.com/charlie0129/daytracker/internal/timeutil"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	cfg        *config.Config
	repos      *repository.Repositories
	planner    *planner.Planner
	engine     *rollover.Engine
	auth       *auth.Authenticator
	validators validators
	now        func() time.Time

	// users touched in the registry, by the date they were last touched
	touched sync.Map
}

func NewHandler(cfg *config.Config, store database.Store, engine *rollover.Engine, authn *auth.Authenticator) (*Handler, error) {
	v, err := loadValidators()
	if err != nil {
		return nil, err
	}
	h := &Handler{
		cfg:        cfg,
		repos:      repository.New(store),
		engine:     engine,
		auth:       authn,
		validators: v,
		now:        time.Now,
	}
	h.planner = planner.New(store, cfg.GetTimezone(), planner.WithClock(func() time.Time { return h.now() }))
	return h, nil
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	api := http.NewServeMux()

	// Active day
	api.HandleFunc("GET /api/v1/today", h.listToday)
	api.HandleFunc("POST /api/v1/today", h.addActivity)
	api.HandleFunc("PUT /api/v1/today/{id}", h.updateActivity)
	api.HandleFunc("DELETE /api/v1/today/{id}", h.deleteActivity)

	// History
	api.HandleFunc("GET /api/v1/progress", h.getProgress)
	api.HandleFunc("GET /api/v1/archive/{date}", h.getArchive)

	// Templates
	api.HandleFunc("GET /api/v1/templates/day", h.listDayTemplates)
	api.HandleFunc("POST /api/v1/templates/day", h.createDayTemplate)
	api.HandleFunc("GET /api/v1/templates/day/{id}", h.getDayTemplate)
	api.HandleFunc("PUT /api/v1/templates/day/{id}", h.updateDayTemplate)
	api.HandleFunc("DELETE /api/v1/templates/day/{id}", h.deleteDayTemplate)
	api.HandleFunc("POST /api/v1/templates/day/{id}/apply", h.applyDayTemplate)
	api.HandleFunc("GET /api/v1/templates/week", h.listWeekTemplates)
	api.HandleFunc("POST /api/v1/templates/week", h.createWeekTemplate)
	api.HandleFunc("GET /api/v1/templates/week/{id}", h.getWeekTemplate)
	api.HandleFunc("PUT /api/v1/templates/week/{id}", h.updateWeekTemplate)
	api.HandleFunc("DELETE /api/v1/templates/week/{id}", h.deleteWeekTemplate)
	api.HandleFunc("POST /api/v1/templates/week/{id}/apply", h.applyWeekTemplate)

	// Weekly schedule and categories
	api.HandleFunc("GET /api/v1/weekdays/{weekday}", h.getWeekday)
	api.HandleFunc("GET /api/v1/categories", h.listCategories)
	api.HandleFunc("POST /api/v1/categories", h.addCategory)

	// Rollover
	api.HandleFunc("POST /api/v1/rollover", h.triggerRollover)
	api.HandleFunc("GET /api/v1/rollover/status", h.getRolloverStatus)

	mux.Handle("/api/v1/", h.auth.Middleware(h.touchUser, h.unauthorized)(api))

	// Health check
	mux.HandleFunc("GET /health", h.healthCheck)
}

// --- Response helpers ---

type APIResponse struct {
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, APIResponse{Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, APIResponse{Error: message})
}

// storeFailure logs err and answers 500; the client sees only what failed.
func storeFailure(w http.ResponseWriter, what string, err error) {
	slog.Error("failed to "+what, "error", err)
	writeError(w, http.StatusInternalServerError, "failed to "+what)
}

func (h *Handler) unauthorized(w http.ResponseWriter, err error) {
	writeError(w, http.StatusUnauthorized, err.Error())
}

func (h *Handler) touchUser(ctx context.Context, uid string) {
	today := timeutil.DateKey(h.today())
	if last, ok := h.touched.Load(uid); ok && last == today {
		return
	}
	if err := h.repos.Users.Touch(ctx, uid, h.today()); err != nil {
		slog.Warn("failed to register user", "user", uid, "error", err)
		return
	}
	h.touched.Store(uid, today)
}

func (h *Handler) today() time.Time {
	return h.now().In(h.cfg.GetTimezone())
}

// readBody reads the request body and validates it against schema.
func (h *Handler) readBody(w http.ResponseWriter, r *http.Request, schema string) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return nil, false
	}
	if err := h.validators.validate(schema, body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return body, true
}

func decode[T any](w http.ResponseWriter, body []byte) (T, bool) {
	var v T
	if err := json.Unmarshal(body, &v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return v, false
	}
	return v, true
}

// --- Active day ---

// listToday returns the Active-Day Set ordered by start time
// GET /api/v1/today
func (h *Handler) listToday(w http.ResponseWriter, r *http.Request) {
	activities, err := h.repos.Activities.List(r.Context(), auth.UserFrom(r.Context()))
	if err != nil {
		storeFailure(w, "list activities", err)
		return
	}
	writeData(w, http.StatusOK, activities)
}

// POST /api/v1/today
func (h *Handler) addActivity(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r, schemaActivity)
	if !ok {
		return
	}
	a, ok := decode[models.Activity](w, body)
	if !ok {
		return
	}
	added, err := h.repos.Activities.Add(r.Context(), auth.UserFrom(r.Context()), a)
	if err != nil {
		storeFailure(w, "add activity", err)
		return
	}
	writeData(w, http.StatusCreated, added)
}

// PUT /api/v1/today/{id}
func (h *Handler) updateActivity(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r, schemaActivity)
	if !ok {
		return
	}
	a, ok := decode[models.Activity](w, body)
	if !ok {
		return
	}
	a.ID = r.PathValue("id")
	err := h.repos.Activities.Update(r.Context(), auth.UserFrom(r.Context()), a)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "activity not found")
		return
	}
	if err != nil {
		storeFailure(w, "update activity", err)
		return
	}
	writeData(w, http.StatusOK, a)
}

// DELETE /api/v1/today/{id}
func (h *Handler) deleteActivity(w http.ResponseWriter, r *http.Request) {
	if err := h.repos.Activities.Delete(r.Context(), auth.UserFrom(r.Context()), r.PathValue("id")); err != nil {
		storeFailure(w, "delete activity", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- History ---

// getProgress returns progress entries for a trailing range
// GET /api/v1/progress?range=week
func (h *Handler) getProgress(w http.ResponseWriter, r *http.Request) {
	rangeStr := r.URL.Query().Get("range")
	if rangeStr == "" {
		rangeStr = string(models.RangeWeek)
	}
	rng, err := models.ParseTimeRange(rangeStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid range, use week, month or year")
		return
	}

	entries, err := h.repos.Progress.ListRange(r.Context(), auth.UserFrom(r.Context()), rng, h.today())
	if err != nil {
		storeFailure(w, "get progress", err)
		return
	}
	writeData(w, http.StatusOK, entries)
}

// GET /api/v1/archive/{date}
func (h *Handler) getArchive(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if _, err := timeutil.ParseDateKey(date, h.cfg.GetTimezone()); err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format, use YYYY-MM-DD")
		return
	}
	entry, err := h.repos.Archive.Get(r.Context(), auth.UserFrom(r.Context()), date)
	if err != nil {
		storeFailure(w, "get archive", err)
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "no archive for "+date)
		return
	}
	writeData(w, http.StatusOK, entry)
}

// --- Day templates ---

func (h *Handler) listDayTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.repos.Templates.ListDay(r.Context(), auth.UserFrom(r.Context()))
	if err != nil {
		storeFailure(w, "list day templates", err)
		return
	}
	writeData(w, http.StatusOK, templates)
}

func (h *Handler) createDayTemplate(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r, schemaDayTemplate)
	if !ok {
		return
	}
	t, ok := decode[models.DayTemplate](w, body)
	if !ok {
		return
	}
	created, err := h.repos.Templates.AddDay(r.Context(), auth.UserFrom(r.Context()), t)
	if err != nil {
		storeFailure(w, "create day template", err)
		return
	}
	writeData(w, http.StatusCreated, created)
}

func (h *Handler) getDayTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.repos.Templates.GetDay(r.Context(), auth.UserFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		storeFailure(w, "get day template", err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	writeData(w, http.StatusOK, t)
}

func (h *Handler) updateDayTemplate(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r, schemaDayTemplate)
	if !ok {
		return
	}
	t, ok := decode[models.DayTemplate](w, body)
	if !ok {
		return
	}
	t.TemplateID = r.PathValue("id")
	err := h.repos.Templates.UpdateDay(r.Context(), auth.UserFrom(r.Context()), t)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		storeFailure(w, "update day template", err)
		return
	}
	writeData(w, http.StatusOK, t)
}

func (h *Handler) deleteDayTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.repos.Templates.DeleteDay(r.Context(), auth.UserFrom(r.Context()), r.PathValue("id")); err != nil {
		storeFailure(w, "delete day template", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// applyDayTemplate writes the template to the given weekdays
// POST /api/v1/templates/day/{id}/apply {"weekdays": ["Monday"]}
func (h *Handler) applyDayTemplate(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r, schemaApplyDay)
	if !ok {
		return
	}
	req, ok := decode[struct {
		Weekdays []string `json:"weekdays"`
	}](w, body)
	if !ok {
		return
	}

	uid := auth.UserFrom(r.Context())
	t, err := h.repos.Templates.GetDay(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		storeFailure(w, "get day template", err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}

	applied, err := h.planner.ApplyDayTemplate(r.Context(), uid, *t, req.Weekdays)
	h.writeApplied(w, applied, err)
}

// --- Week templates ---

func (h *Handler) listWeekTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.repos.Templates.ListWeek(r.Context(), auth.UserFrom(r.Context()))
	if err != nil {
		storeFailure(w, "list week templates", err)
		return
	}
	writeData(w, http.StatusOK, templates)
}

func (h *Handler) createWeekTemplate(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r, schemaWeekTemplate)
	if !ok {
		return
	}
	t, ok := decode[models.WeekTemplate](w, body)
	if !ok {
		return
	}
	created, err := h.repos.Templates.AddWeek(r.Context(), auth.UserFrom(r.Context()), t)
	if err != nil {
		storeFailure(w, "create week template", err)
		return
	}
	writeData(w, http.StatusCreated, created)
}

func (h *Handler) getWeekTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := h.repos.Templates.GetWeek(r.Context(), auth.UserFrom(r.Context()), r.PathValue("id"))
	if err != nil {
		storeFailure(w, "get week template", err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	writeData(w, http.StatusOK, t)
}

func (h *Handler) updateWeekTemplate(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r, schemaWeekTemplate)
	if !ok {
		return
	}
	t, ok := decode[models.WeekTemplate](w, body)
	if !ok {
		return
	}
	t.TemplateID = r.PathValue("id")
	err := h.repos.Templates.UpdateWeek(r.Context(), auth.UserFrom(r.Context()), t)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}
	if err != nil {
		storeFailure(w, "update week template", err)
		return
	}
	writeData(w, http.StatusOK, t)
}

func (h *Handler) deleteWeekTemplate(w http.ResponseWriter, r *http.Request) {
	if err := h.repos.Templates.DeleteWeek(r.Context(), auth.UserFrom(r.Context()), r.PathValue("id")); err != nil {
		storeFailure(w, "delete week template", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/v1/templates/week/{id}/apply
func (h *Handler) applyWeekTemplate(w http.ResponseWriter, r *http.Request) {
	uid := auth.UserFrom(r.Context())
	t, err := h.repos.Templates.GetWeek(r.Context(), uid, r.PathValue("id"))
	if err != nil {
		storeFailure(w, "get week template", err)
		return
	}
	if t == nil {
		writeError(w, http.StatusNotFound, "template not found")
		return
	}

	applied, err := h.planner.ApplyWeekTemplate(r.Context(), uid, *t)
	h.writeApplied(w, applied, err)
}

func (h *Handler) writeApplied(w http.ResponseWriter, applied *planner.Applied, err error) {
	if errors.Is(err, planner.ErrInvalidWeekday) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		storeFailure(w, "apply template", err)
		return
	}
	writeData(w, http.StatusOK, applied)
}

// --- Weekly schedule and categories ---

// GET /api/v1/weekdays/{weekday}
func (h *Handler) getWeekday(w http.ResponseWriter, r *http.Request) {
	activities, err := h.repos.Weekdays.Get(r.Context(), auth.UserFrom(r.Context()), r.PathValue("weekday"))
	if errors.Is(err, repository.ErrInvalidWeekday) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		storeFailure(w, "get weekday activities", err)
		return
	}
	if activities == nil {
		activities = []models.Activity{}
	}
	repository.SortByStartTime(activities)
	writeData(w, http.StatusOK, activities)
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	names, err := h.repos.Categories.List(r.Context(), auth.UserFrom(r.Context()))
	if err != nil {
		storeFailure(w, "list categories", err)
		return
	}
	writeData(w, http.StatusOK, names)
}

// POST /api/v1/categories {"name": "Piano"}
func (h *Handler) addCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	err := h.repos.Categories.Add(r.Context(), auth.UserFrom(r.Context()), req.Name)
	if errors.Is(err, repository.ErrInvalidCategory) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		storeFailure(w, "add category", err)
		return
	}
	writeData(w, http.StatusCreated, map[string]string{"name": req.Name})
}

// --- Rollover ---

// triggerRollover runs the rollover for the caller. The optional date is
// the day the run is for; the day before it is archived.
// POST /api/v1/rollover {"date": "2024-01-02"}
func (h *Handler) triggerRollover(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Date string `json:"date"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}

	today := h.today()
	if req.Date != "" {
		day, err := timeutil.ParseDateKey(req.Date, h.cfg.GetTimezone())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid date format, use YYYY-MM-DD")
			return
		}
		today = day
	}

	res, err := h.engine.Run(r.Context(), auth.UserFrom(r.Context()), today)
	if errors.Is(err, rollover.ErrNoSession) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		storeFailure(w, "run rollover", err)
		return
	}
	writeData(w, http.StatusOK, res)
}

// GET /api/v1/rollover/status
func (h *Handler) getRolloverStatus(w http.ResponseWriter, r *http.Request) {
	marker, err := h.engine.LastRun(r.Context(), auth.UserFrom(r.Context()))
	if err != nil {
		storeFailure(w, "get rollover status", err)
		return
	}
	writeData(w, http.StatusOK, map[string]interface{}{
		"last_date":  marker.Date,
		"phase":      marker.Phase,
		"updated_at": marker.UpdatedAt,
	})
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
	})
}
