package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/CarePingHQ/CarePing/internal/models"
	"github.com/CarePingHQ/CarePing/internal/whatsapp"
)

// WhatsAppService implements Service over a direct whatsmeow connection.
// Templates are rendered locally ({{name}} placeholders) since there is no
// provider-side template engine on this channel.
type WhatsAppService struct {
	client  whatsapp.Sender
	mu      sync.RWMutex
	stopped bool
}

// NewWhatsAppService creates a new WhatsAppService around the given sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	return &WhatsAppService{client: client}
}

// Compile-time check that WhatsAppService implements Service.
var _ Service = (*WhatsAppService)(nil)

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number the same way the Twilio service does.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
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
		slog.Debug("WhatsAppService canonicalized recipient", "original", recipient, "canonical", canonical)
	}

	return canonical, nil
}

// RenderTemplate substitutes {{name}} placeholders in the template body.
func RenderTemplate(tmpl models.Template, variables map[string]string) string {
	body := tmpl.Body
	for name, value := range variables {
		body = strings.ReplaceAll(body, "{{"+name+"}}", value)
	}
	return body
}

// SendTemplateMessage renders the template body and sends it as a plain
// conversation message. The returned status is always "sent" on success;
// WhatsApp delivers no synchronous per-message status.
func (s *WhatsAppService) SendTemplateMessage(ctx context.Context, to string, tmpl models.Template, variables map[string]string) (string, error) {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return "", ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService.SendTemplateMessage validation error", "error", err, "to", to)
		return "", err
	}

	body := RenderTemplate(tmpl, variables)
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return "", err
	}
	slog.Debug("WhatsAppService.SendTemplateMessage sent", "to", canonicalTo, "templateSid", tmpl.SID)
	return "sent", nil
}

// Start is a no-op; the client connects at construction time.
func (s *WhatsAppService) Start(ctx context.Context) error {
	return nil
}

// Stop marks the service stopped; further sends fail fast.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}
