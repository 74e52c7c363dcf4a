package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/CarePingHQ/CarePing/internal/models"
	"github.com/CarePingHQ/CarePing/internal/twiliosms"
)

// TwilioService implements Service using the Twilio API.
type TwilioService struct {
	client  twiliosms.Sender // real Twilio client or MockClient
	mu      sync.RWMutex
	stopped bool
}

// NewTwilioService creates a new TwilioService around the given sender.
func NewTwilioService(client twiliosms.Sender) *TwilioService {
	return &TwilioService{client: client}
}

// Compile-time check that TwilioService implements Service.
var _ Service = (*TwilioService)(nil)

// ValidateAndCanonicalizeRecipient validates and canonicalizes a phone number.
// It removes all non-numeric characters and validates the result has at least 6 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}

	if recipient != canonical {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}

	return canonical, nil
}

// SendTemplateMessage sends the template via the Twilio content API and
// returns the provider-reported delivery status.
func (s *TwilioService) SendTemplateMessage(ctx context.Context, to string, tmpl models.Template, variables map[string]string) (string, error) {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return "", ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendTemplateMessage validation error", "error", err, "to", to)
		return "", err
	}

	status, err := s.client.SendTemplateMessage(ctx, "+"+canonicalTo, tmpl.SID, variables)
	if err != nil {
		return "", err
	}
	slog.Debug("TwilioService.SendTemplateMessage sent", "to", canonicalTo, "templateSid", tmpl.SID, "status", status)
	return status, nil
}

// Start is a no-op for Twilio (no live client).
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop marks the service stopped; further sends fail fast.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}
