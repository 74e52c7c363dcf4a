// Package delivery turns a due reminder into outbound channel messages.
//
// The catalog resolves a reminder's template key to a processed template; the
// adapter composes recipient variables, invokes the channel, and records the
// attempt on the reminder row.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/CarePingHQ/CarePing/internal/models"
	"github.com/CarePingHQ/CarePing/internal/twiliosms"
)

// ErrTemplateNotFound is returned when a template key has no catalog entry.
// Absence of a template is a hard error for the whole delivery attempt.
var ErrTemplateNotFound = errors.New("template not found")

// Catalog resolves a template key to a processed message template.
type Catalog interface {
	GetProcessedTemplate(ctx context.Context, key string) (*models.Template, error)
}

// StaticCatalog serves templates from a fixed map. Used for config-driven
// deployments and tests.
type StaticCatalog struct {
	templates map[string]models.Template
}

// NewStaticCatalog creates a catalog over the given template map.
func NewStaticCatalog(templates map[string]models.Template) *StaticCatalog {
	return &StaticCatalog{templates: templates}
}

// DefaultTemplates returns the built-in consultation reminder templates used
// when no provider-side catalog is configured.
func DefaultTemplates() map[string]models.Template {
	return map[string]models.Template{
		"consultation_reminder_24h": {
			SID:       "static_reminder_24h",
			Body:      "Hi {{recipient_name}}, a reminder that your consultation with {{counterpart_name}} is tomorrow, on {{appointment_time}}.",
			Variables: []string{"recipient_name", "counterpart_name", "appointment_time"},
		},
		"consultation_reminder_1h": {
			SID:       "static_reminder_1h",
			Body:      "Hi {{recipient_name}}, your consultation with {{counterpart_name}} starts soon, at {{appointment_time}}.",
			Variables: []string{"recipient_name", "counterpart_name", "appointment_time"},
		},
		models.TemplateKeyGeneric: {
			SID:       "static_reminder_generic",
			Body:      "Hi {{recipient_name}}, a reminder about your consultation with {{counterpart_name}} on {{appointment_time}}.",
			Variables: []string{"recipient_name", "counterpart_name", "appointment_time"},
		},
	}
}

func (c *StaticCatalog) GetProcessedTemplate(ctx context.Context, key string) (*models.Template, error) {
	tmpl, ok := c.templates[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, key)
	}
	return &tmpl, nil
}

// DefaultCatalogTTL bounds how long the Twilio content listing is cached.
const DefaultCatalogTTL = 5 * time.Minute

// TwilioContentCatalog resolves template keys against the account's Twilio
// content templates, keyed by friendly name, with a TTL cache so each poll
// tick does not re-list the account.
type TwilioContentCatalog struct {
	client    twiliosms.Sender
	ttl       time.Duration
	mu        sync.Mutex
	templates map[string]models.Template
	fetchedAt time.Time
}

// NewTwilioContentCatalog creates a catalog over the given Twilio client.
func NewTwilioContentCatalog(client twiliosms.Sender) *TwilioContentCatalog {
	return &TwilioContentCatalog{client: client, ttl: DefaultCatalogTTL}
}

func (c *TwilioContentCatalog) GetProcessedTemplate(ctx context.Context, key string) (*models.Template, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.templates == nil || time.Since(c.fetchedAt) > c.ttl {
		templates, err := c.client.ListContentTemplates(ctx)
		if err != nil {
			// Serve the stale cache if we have one rather than failing the
			// delivery on a transient listing error.
			if c.templates == nil {
				return nil, fmt.Errorf("failed to refresh template catalog: %w", err)
			}
			slog.Warn("TwilioContentCatalog.GetProcessedTemplate: refresh failed, using cached catalog", "error", err)
		} else {
			c.templates = templates
			c.fetchedAt = time.Now()
		}
	}

	tmpl, ok := c.templates[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, key)
	}
	return &tmpl, nil
}
