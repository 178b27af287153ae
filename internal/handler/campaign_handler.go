// internal/handler/campaign_handler.go
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/unclebandit/gymcall-scheduler/internal/model"
	"github.com/unclebandit/gymcall-scheduler/internal/queue"
)

// CampaignReader is the read side of the campaign service.
type CampaignReader interface {
	GetCampaign(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
}

// CampaignHandler serves the read-only campaign and job endpoints.
type CampaignHandler struct {
	Campaigns CampaignReader
	Broker    queue.JobBroker
	Log       *zap.Logger
}

// JobsResponse groups broker jobs by state.
type JobsResponse struct {
	Scheduled []queue.JobDescriptor `json:"scheduled"`
	Reserved  []queue.JobDescriptor `json:"reserved"`
	Active    []queue.JobDescriptor `json:"active"`
}

// GetCampaignHandler returns a single campaign by ID
func (h *CampaignHandler) GetCampaignHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		BadRequest(w, "invalid campaign id")
		return
	}

	campaign, err := h.Campaigns.GetCampaign(r.Context(), id)
	if err != nil {
		Error(w, h.Log, err)
		return
	}
	JSON(w, http.StatusOK, campaign)
}

// ListJobsHandler inspects the broker, optionally filtered by ?campaign_id=.
func (h *CampaignHandler) ListJobsHandler(w http.ResponseWriter, r *http.Request) {
	var filter *uuid.UUID
	if raw := r.URL.Query().Get("campaign_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			BadRequest(w, "invalid campaign_id")
			return
		}
		filter = &id
	}

	resp, err := InspectJobs(r.Context(), h.Broker, filter)
	if err != nil {
		Error(w, h.Log, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// InspectJobs lists scheduled, reserved and active jobs in that order,
// keeping only campaignID's when it is set.
func InspectJobs(ctx context.Context, broker queue.JobBroker, campaignID *uuid.UUID) (JobsResponse, error) {
	var resp JobsResponse
	for _, s := range []struct {
		dst     *[]queue.JobDescriptor
		inspect func(context.Context) ([]queue.JobDescriptor, error)
	}{
		{&resp.Scheduled, broker.InspectScheduled},
		{&resp.Reserved, broker.InspectReserved},
		{&resp.Active, broker.InspectActive},
	} {
		jobs, err := s.inspect(ctx)
		if err != nil {
			return JobsResponse{}, err
		}
		*s.dst = filterJobs(jobs, campaignID)
	}
	return resp, nil
}

func filterJobs(jobs []queue.JobDescriptor, campaignID *uuid.UUID) []queue.JobDescriptor {
	out := make([]queue.JobDescriptor, 0, len(jobs))
	for _, j := range jobs {
		if campaignID == nil || j.Tags.CampaignID == *campaignID {
			out = append(out, j)
		}
	}
	return out
}
