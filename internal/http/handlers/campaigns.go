package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/solvencyai/voicecollect/internal/store"
	"github.com/solvencyai/voicecollect/pkg/logging"
)

// CampaignLauncher enqueues dial jobs for every contact on a campaign's list.
type CampaignLauncher interface {
	Launch(ctx context.Context, campaignID uuid.UUID) (int, error)
}

// CampaignStopper tears an in-flight campaign down.
type CampaignStopper interface {
	StopCampaign(ctx context.Context, campaignID uuid.UUID) (int, error)
}

// CampaignReader reads campaign records and member conversation statuses.
type CampaignReader interface {
	Get(ctx context.Context, id uuid.UUID) (store.CampaignRecord, error)
	StatusesByCampaign(ctx context.Context, campaignID uuid.UUID) ([]string, error)
}

// CampaignsHandler serves campaign launch, stop, and status endpoints.
type CampaignsHandler struct {
	launcher CampaignLauncher
	stopper  CampaignStopper
	reader   CampaignReader
	logger   *logging.Logger
}

func NewCampaignsHandler(launcher CampaignLauncher, stopper CampaignStopper, reader CampaignReader, logger *logging.Logger) *CampaignsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CampaignsHandler{
		launcher: launcher,
		stopper:  stopper,
		reader:   reader,
		logger:   logger,
	}
}

func campaignID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	return id, err == nil
}

// Dial handles POST /campaigns/{id}/dial.
func (h *CampaignsHandler) Dial(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	enqueued, err := h.launcher.Launch(r.Context(), id)
	if err != nil {
		h.logger.Error("campaign launch failed", "campaign_id", id, "error", err)
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"campaign_id": id.String(),
		"enqueued":    enqueued,
	})
}

// Stop handles POST /campaigns/{id}/stop.
func (h *CampaignsHandler) Stop(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	canceled, err := h.stopper.StopCampaign(r.Context(), id)
	if err != nil {
		h.logger.Error("campaign stop failed", "campaign_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "campaign stop failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"campaign_id": id.String(),
		"canceled":    canceled,
	})
}

// Status handles GET /campaigns/{id}: the campaign record plus a count of
// member conversations per status.
func (h *CampaignsHandler) Status(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}

	rec, err := h.reader.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		h.logger.Error("campaign read failed", "campaign_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "campaign read failed")
		return
	}

	statuses, err := h.reader.StatusesByCampaign(r.Context(), id)
	if err != nil {
		h.logger.Error("campaign statuses read failed", "campaign_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "campaign read failed")
		return
	}
	counts := make(map[string]int, 4)
	for _, s := range statuses {
		counts[s]++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":            rec.ID.String(),
		"title":         rec.Title,
		"status":        rec.Status,
		"conversations": counts,
	})
}
