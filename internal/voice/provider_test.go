package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/gymcall-scheduler/internal/model"
)

func TestHTTPClientCreateAndGet(t *testing.T) {
	var got CallRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v2/create-phone-call":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
			w.Write([]byte(`{"call_id":"c-1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v2/get-call/c-1":
			w.Write([]byte(`{"call_id":"c-1","call_status":"ended","call_analysis":{"call_successful":true}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "secret", time.Second)
	ctx := context.Background()

	call, err := c.CreateCall(ctx, CallRequest{FromNumber: "+1", ToNumber: "+2"})
	require.NoError(t, err)
	assert.Equal(t, "c-1", call.CallID)
	assert.Equal(t, "registered", call.Status)
	assert.Equal(t, "+2", got.ToNumber)

	call, err = c.GetCall(ctx, "c-1")
	require.NoError(t, err)
	assert.True(t, call.Ended())
	assert.Equal(t, model.OutcomeInterested, call.Outcome())

	_, err = c.GetCall(ctx, "missing")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.False(t, apiErr.Temporary())
}

func TestCreateCallRequiresPhone(t *testing.T) {
	c := NewHTTPClient("http://unused", "k", time.Second)
	_, err := c.CreateCall(context.Background(), CallRequest{FromNumber: "+1"})
	assert.Error(t, err)
}

func TestCallOutcome(t *testing.T) {
	tests := []struct {
		name string
		call Call
		want model.CallOutcome
	}{
		{"no answer", Call{DisconnectionReason: "dial_no_answer"}, model.OutcomeNoAnswer},
		{"voicemail", Call{DisconnectionReason: "voicemail_reached"}, model.OutcomeVoicemail},
		{"custom outcome wins", Call{Analysis: &Analysis{Successful: true, Custom: map[string]any{"outcome": "Callback_Requested"}}}, model.OutcomeCallback},
		{"negative sentiment", Call{Analysis: &Analysis{Sentiment: "Negative"}}, model.OutcomeNotInterested},
		{"no analysis", Call{Status: "ended"}, model.OutcomeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.call.Outcome())
		})
	}
}

func TestNewCallRequest(t *testing.T) {
	lead := &model.Lead{ID: uuid.New(), BranchID: uuid.New(), FirstName: "Amina", Phone: "+254700000001", Status: model.LeadNew}
	campaign := &model.Campaign{ID: uuid.New(), GymID: uuid.New(), Name: "Spring"}

	req := NewCallRequest("+1", "agent-1", "Hi {first_name}, calling about {campaign_name}", lead, campaign)

	assert.Equal(t, "+254700000001", req.ToNumber)
	assert.Equal(t, "agent-1", req.AgentID)
	assert.Equal(t, "Hi Amina, calling about Spring", req.Variables["begin_message"])
	assert.Equal(t, campaign.ID.String(), req.Metadata["campaign_id"])
}
