// internal/errors/errors.go
package appErrors

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrConcurrentPass means call_count moved under a scheduling pass.
	ErrConcurrentPass = errors.New("campaign was modified by a concurrent scheduling pass")
	// ErrCampaignLocked means another pass holds the campaign lock.
	ErrCampaignLocked = errors.New("campaign is locked by another scheduling pass")
	ErrPassTimeout    = errors.New("scheduling pass timed out")
	ErrPassPanicked   = errors.New("scheduling pass panicked")
	ErrJobNotFound    = errors.New("job not found")
)

// ErrCampaignNotFound is returned when a campaign id does not resolve.
type ErrCampaignNotFound struct {
	CampaignID uuid.UUID
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %s not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id uuid.UUID) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrLeadNotFound struct {
	LeadID uuid.UUID
}

func (e *ErrLeadNotFound) Error() string {
	return fmt.Sprintf("lead with ID %s not found", e.LeadID)
}

func NewLeadNotFound(id uuid.UUID) error {
	return &ErrLeadNotFound{LeadID: id}
}

// ConfigurationError marks a campaign whose settings cannot be scheduled.
// The campaign is skipped and left untouched.
type ConfigurationError struct {
	CampaignID uuid.UUID
	Field      string
	Reason     string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("campaign %s misconfigured: %s %s", e.CampaignID, e.Field, e.Reason)
}

func NewConfigurationError(id uuid.UUID, field, reason string) error {
	return &ConfigurationError{CampaignID: id, Field: field, Reason: reason}
}

// InvalidTransitionError is returned for a status change the lifecycle forbids.
type InvalidTransitionError struct {
	From string
	To   string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot move campaign from %s to %s", e.From, e.To)
}

func NewInvalidTransition(from, to string) error {
	return &InvalidTransitionError{From: from, To: to}
}

// DispatchFailureError reports leads whose call-trigger job could not be
// enqueued after retries. Calls that did dispatch are still counted.
type DispatchFailureError struct {
	CampaignID uuid.UUID
	Failed     map[uuid.UUID]error
}

func (e *DispatchFailureError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for leadID, err := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", leadID, err))
	}
	return fmt.Sprintf("campaign %s: %d calls failed to dispatch (%s)", e.CampaignID, len(e.Failed), strings.Join(parts, "; "))
}

func IsNotFound(err error) bool {
	var c *ErrCampaignNotFound
	var l *ErrLeadNotFound
	return errors.As(err, &c) || errors.As(err, &l) || errors.Is(err, ErrJobNotFound)
}
