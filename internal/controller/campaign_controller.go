// internal/controller/campaign_controller.go
package controller

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/gymcall-scheduler/internal/errors"
	"github.com/unclebandit/gymcall-scheduler/internal/handler"
	"github.com/unclebandit/gymcall-scheduler/internal/model"
	"github.com/unclebandit/gymcall-scheduler/internal/queue"
	"github.com/unclebandit/gymcall-scheduler/internal/service"
)

// CampaignService is what the controller needs from the scheduling service.
type CampaignService interface {
	ScheduleCampaign(ctx context.Context, id uuid.UUID, date time.Time) ([]model.DispatchedCall, error)
	ScheduleAllCampaigns(ctx context.Context, date time.Time) (*service.SweepReport, error)
	PauseCampaign(ctx context.Context, id uuid.UUID) (*model.Campaign, error)
	CancelCampaign(ctx context.Context, id uuid.UUID) (*model.Campaign, service.RevocationReport, error)
}

type CampaignController struct {
	CampaignService CampaignService
	// Passes, when set, enables ?async=true.
	Passes   queue.PassQueue
	Location *time.Location
	Log      *zap.Logger
	Now      func() time.Time
}

type ScheduleResponse struct {
	CampaignID uuid.UUID              `json:"campaign_id"`
	Date       string                 `json:"date"`
	Scheduled  []model.DispatchedCall `json:"scheduled"`
	Failed     map[uuid.UUID]string   `json:"failed,omitempty"`
}

type SweepResponse struct {
	Date      string                                `json:"date"`
	Scheduled map[uuid.UUID][]model.DispatchedCall `json:"scheduled"`
	Failed    map[uuid.UUID]string                  `json:"failed"`
}

type CancelResponse struct {
	Campaign   *model.Campaign          `json:"campaign"`
	Revocation service.RevocationReport `json:"revocation"`
}

type QueuedResponse struct {
	Queued string `json:"queued"`
}

func (c *CampaignController) location() *time.Location {
	if c.Location != nil {
		return c.Location
	}
	return time.UTC
}

// passDate reads ?date=YYYY-MM-DD in the scheduler's timezone, defaulting to today.
func (c *CampaignController) passDate(r *http.Request) (time.Time, error) {
	loc := c.location()
	raw := r.URL.Query().Get("date")
	if raw == "" {
		now := time.Now
		if c.Now != nil {
			now = c.Now
		}
		y, m, d := now().In(loc).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, loc), nil
	}
	return time.ParseInLocation(time.DateOnly, raw, loc)
}

func async(r *http.Request) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	return v
}

func (c *CampaignController) publish(w http.ResponseWriter, r *http.Request, req queue.PassRequest) {
	if c.Passes == nil {
		handler.JSON(w, http.StatusServiceUnavailable, map[string]string{"error": "async scheduling is not configured"})
		return
	}
	if err := c.Passes.Publish(r.Context(), req); err != nil {
		handler.Error(w, c.Log, err)
		return
	}
	handler.JSON(w, http.StatusAccepted, QueuedResponse{Queued: req.String()})
}

// ScheduleCampaign runs (or queues) one pass for the campaign.
func (c *CampaignController) ScheduleCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.BadRequest(w, "invalid campaign id")
		return
	}
	date, err := c.passDate(r)
	if err != nil {
		handler.BadRequest(w, "date must be YYYY-MM-DD")
		return
	}

	if async(r) {
		c.publish(w, r, queue.PassRequest{CampaignID: &id, Date: date.Format(time.DateOnly)})
		return
	}

	dispatched, err := c.CampaignService.ScheduleCampaign(r.Context(), id, date)
	resp := ScheduleResponse{CampaignID: id, Date: date.Format(time.DateOnly), Scheduled: dispatched}

	var dfe *appErrors.DispatchFailureError
	switch {
	case errors.As(err, &dfe):
		resp.Failed = make(map[uuid.UUID]string, len(dfe.Failed))
		for leadID, ferr := range dfe.Failed {
			resp.Failed[leadID] = ferr.Error()
		}
		handler.JSON(w, http.StatusMultiStatus, resp)
	case err != nil:
		handler.Error(w, c.Log, err)
	default:
		handler.JSON(w, http.StatusOK, resp)
	}
}

// ScheduleAll runs (or queues) a sweep over every campaign active on the date.
func (c *CampaignController) ScheduleAll(w http.ResponseWriter, r *http.Request) {
	date, err := c.passDate(r)
	if err != nil {
		handler.BadRequest(w, "date must be YYYY-MM-DD")
		return
	}

	if async(r) {
		c.publish(w, r, queue.PassRequest{Date: date.Format(time.DateOnly)})
		return
	}

	report, err := c.CampaignService.ScheduleAllCampaigns(r.Context(), date)
	if err != nil {
		handler.Error(w, c.Log, err)
		return
	}
	handler.JSON(w, http.StatusOK, SweepResponse{Date: report.Date, Scheduled: report.Scheduled, Failed: report.Errors()})
}

func (c *CampaignController) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.BadRequest(w, "invalid campaign id")
		return
	}

	campaign, err := c.CampaignService.PauseCampaign(r.Context(), id)
	if err != nil {
		handler.Error(w, c.Log, err)
		return
	}
	handler.JSON(w, http.StatusOK, campaign)
}

func (c *CampaignController) CancelCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		handler.BadRequest(w, "invalid campaign id")
		return
	}

	campaign, report, err := c.CampaignService.CancelCampaign(r.Context(), id)
	if err != nil {
		handler.Error(w, c.Log, err)
		return
	}
	handler.JSON(w, http.StatusOK, CancelResponse{Campaign: campaign, Revocation: report})
}
