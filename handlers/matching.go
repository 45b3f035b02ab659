// Package handlers is the thin gin HTTP layer over the matching engine's
// five external contracts, grounded on the teacher's handlers package
// shape (one constructor per handler group, request binding via
// ShouldBindJSON, validator-driven input checks).
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/myjobmatch/matchengine/backfill"
	"github.com/myjobmatch/matchengine/errs"
	"github.com/myjobmatch/matchengine/logging"
	"github.com/myjobmatch/matchengine/models"
	"github.com/myjobmatch/matchengine/scheduler"
)

var log = logging.Component("handlers")
var validate = validator.New()

// Broker is the subset of progress.Broker the HTTP layer depends on.
type Broker interface {
	Get(userID string) (models.ProgressEvent, bool)
}

// Store is the subset of store.Store RegisterUserQueries depends on.
type Store interface {
	SaveUserSearchQuery(ctx context.Context, q models.UserSearchQuery) error
}

// MatchingHandler implements the five external matching-engine contracts:
// start, status, cancel, query registration, and scheduler tick.
type MatchingHandler struct {
	broker   Broker
	store    Store
	planner  *backfill.Planner
	sched    *scheduler.Scheduler
	runStart func(ctx context.Context, userID string, profile models.CVProfile, forceReanalyze, latestDayOnly bool)
	cancel   func(userID string)
}

// NewMatchingHandler wires the handler to its collaborators. runStart and
// cancel are passed as functions rather than an interface so the handler
// never has to restate matching.Options' concrete type.
func NewMatchingHandler(
	broker Broker,
	store Store,
	planner *backfill.Planner,
	sched *scheduler.Scheduler,
	runStart func(ctx context.Context, userID string, profile models.CVProfile, forceReanalyze, latestDayOnly bool),
	cancel func(userID string),
) *MatchingHandler {
	return &MatchingHandler{broker: broker, store: store, planner: planner, sched: sched, runStart: runStart, cancel: cancel}
}

// startMatchingRequest is the body for POST /matching/start.
type startMatchingRequest struct {
	Profile        models.CVProfile `json:"profile"`
	ForceReanalyze bool              `json:"force_reanalyze"`
	LatestDayOnly  bool              `json:"latest_day_only"`
}

// StartMatching starts a matching run for the named user and returns
// immediately; the run proceeds in the background via the engine.
func (h *MatchingHandler) StartMatching(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		respondValidation(c, "user_id is required")
		return
	}

	var req startMatchingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err.Error())
		return
	}
	req.Profile.UserID = userID
	if err := validate.Struct(req.Profile); err != nil {
		respondValidation(c, err.Error())
		return
	}

	h.runStart(c.Request.Context(), userID, req.Profile, req.ForceReanalyze, req.LatestDayOnly)
	c.JSON(http.StatusAccepted, gin.H{"user_id": userID, "status": "started"})
}

// GetMatchingStatus returns the named user's latest progress event.
func (h *MatchingHandler) GetMatchingStatus(c *gin.Context) {
	userID := c.Param("user_id")
	event, ok := h.broker.Get(userID)
	if !ok {
		event = models.ProgressEvent{UserID: userID, Stage: models.StageIdle, Status: models.StatusCompleted}
	}
	c.JSON(http.StatusOK, event)
}

// CancelMatching requests a best-effort cooperative cancel of the named
// user's run, always returning 202 regardless of whether a run was
// actually in flight.
func (h *MatchingHandler) CancelMatching(c *gin.Context) {
	userID := c.Param("user_id")
	h.cancel(userID)
	c.JSON(http.StatusAccepted, gin.H{"user_id": userID, "status": "cancel_requested"})
}

// registerQueriesRequest is the body for POST /users/:user_id/queries.
type registerQueriesRequest struct {
	Titles      []string `json:"titles" validate:"required,min=1"`
	Locations   []string `json:"locations"`
	CountryCode string   `json:"country_code" validate:"required"`
}

// RegisterUserQueries saves one UserSearchQuery row per (title, location)
// pair for the user and triggers the Backfill Planner for any combination
// no user has ever swept before.
func (h *MatchingHandler) RegisterUserQueries(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		respondValidation(c, "user_id is required")
		return
	}

	var req registerQueriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidation(c, err.Error())
		return
	}
	if err := validate.Struct(req); err != nil {
		respondValidation(c, err.Error())
		return
	}

	locations := req.Locations
	if len(locations) == 0 {
		locations = []string{""}
	}

	ctx := c.Request.Context()
	var registered []models.UserSearchQuery
	for _, title := range req.Titles {
		for _, location := range locations {
			q := models.UserSearchQuery{UserID: userID, Keywords: title, Location: location, CountryCode: req.CountryCode}
			if err := h.store.SaveUserSearchQuery(ctx, q); err != nil {
				log.Error().Str("user_id", userID).Err(err).Msg("failed to save user search query")
				c.JSON(http.StatusInternalServerError, gin.H{"error": errs.Store("handlers", err).Error()})
				return
			}
			registered = append(registered, q)
		}
	}

	go func() {
		bgCtx := context.Background()
		for _, q := range registered {
			for _, result := range h.planner.Plan(bgCtx, q) {
				if result.Err != nil && !result.Skipped {
					log.Warn().Str("source", result.Source).Str("combination", result.CombinationKey).Err(result.Err).Msg("backfill sweep failed")
				}
			}
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"user_id": userID, "queries_registered": len(registered)})
}

// SchedulerTick runs one collection cycle synchronously, normally
// timer-driven but exposed here for tests and manual triggering.
func (h *MatchingHandler) SchedulerTick(c *gin.Context) {
	result, err := h.sched.Tick(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func respondValidation(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": errs.Validation("handlers", message).Error()})
}
