// Package messaging defines the pluggable outbound channel abstraction used
// by the delivery adapter, with Twilio and direct-WhatsApp implementations.
package messaging

import (
	"context"
	"errors"
	"regexp"

	"github.com/CarePingHQ/CarePing/internal/models"
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// phoneNumberRegex matches everything that is not a digit, for recipient
// canonicalization.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Returns the canonicalized recipient and an error if
	// validation fails. This allows each service to implement its own
	// recipient validation rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendTemplateMessage sends a rendered template to a recipient with the
	// given variable substitutions and returns the provider-reported delivery
	// status string.
	SendTemplateMessage(ctx context.Context, to string, tmpl models.Template, variables map[string]string) (string, error)

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error
}
