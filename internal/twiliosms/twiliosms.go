// Package twiliosms wraps the Twilio API for outbound SMS/WhatsApp delivery
// in CarePing.
//
// It covers content-template sends (the reminder path) and plain body sends,
// plus template listing for the content catalog.
package twiliosms

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	contentv1 "github.com/twilio/twilio-go/rest/content/v1"

	"github.com/CarePingHQ/CarePing/internal/models"
)

// Sender is the outbound Twilio surface consumed by the messaging service
// (real client in production, MockClient in tests).
type Sender interface {
	SendTemplateMessage(ctx context.Context, to string, templateSID string, variables map[string]string) (string, error)
	SendMessage(ctx context.Context, to string, body string) error
	ListContentTemplates(ctx context.Context) (map[string]models.Template, error)
}

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string // sending number, "whatsapp:+1..." or "+1..." for SMS
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sending number.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// Client wraps the Twilio REST API.
type Client struct {
	client *twilio.RestClient
	from   string
}

// Compile-time check that Client implements Sender.
var _ Sender = (*Client)(nil)

// NewClient creates a Twilio client, falling back to TWILIO_ACCOUNT_SID,
// TWILIO_AUTH_TOKEN, and TWILIO_FROM_NUMBER when options are not provided.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{client: client, from: cfg.From}, nil
}

// SendTemplateMessage sends a content-template message and returns the
// provider-reported delivery status string.
func (c *Client) SendTemplateMessage(ctx context.Context, to string, templateSID string, variables map[string]string) (string, error) {
	varsJSON, err := json.Marshal(variables)
	if err != nil {
		return "", fmt.Errorf("failed to encode content variables: %w", err)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetContentSid(templateSID)
	params.SetContentVariables(string(varsJSON))

	msg, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendTemplateMessage failed", "to", to, "templateSid", templateSID, "error", err)
		return "", fmt.Errorf("failed to send template message to %s: %w", to, err)
	}

	status := ""
	if msg.Status != nil {
		status = *msg.Status
	}
	slog.Debug("Twilio template message sent", "to", to, "templateSid", templateSID, "status", status)
	return status, nil
}

// SendMessage sends a plain body message.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetBody(body)

	_, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	slog.Debug("Twilio message sent", "to", to)
	return nil
}

// ListContentTemplates fetches the account's content templates keyed by
// friendly name, for the template catalog.
func (c *Client) ListContentTemplates(ctx context.Context) (map[string]models.Template, error) {
	pageSize := 50
	contents, err := c.client.ContentV1.ListContent(&contentv1.ListContentParams{PageSize: &pageSize})
	if err != nil {
		return nil, fmt.Errorf("failed to list content templates: %w", err)
	}

	templates := make(map[string]models.Template, len(contents))
	for _, content := range contents {
		if content.Sid == nil || content.FriendlyName == nil {
			continue
		}
		tmpl := models.Template{SID: *content.Sid}
		if content.Types != nil {
			types := interface{}(*content.Types)
			tmpl.Body = extractTextBody(&types)
		}
		if content.Variables != nil {
			variables := interface{}(*content.Variables)
			tmpl.Variables = extractVariableNames(&variables)
		}
		templates[*content.FriendlyName] = tmpl
	}
	slog.Debug("Twilio content templates listed", "count", len(templates))
	return templates, nil
}

// extractTextBody pulls the twilio/text body out of a content entry's
// loosely-typed types object.
func extractTextBody(types *interface{}) string {
	if types == nil {
		return ""
	}
	typeMap, ok := (*types).(map[string]interface{})
	if !ok {
		return ""
	}
	text, ok := typeMap["twilio/text"].(map[string]interface{})
	if !ok {
		return ""
	}
	body, _ := text["body"].(string)
	return body
}

// extractVariableNames pulls placeholder names out of a content entry's
// variables object.
func extractVariableNames(variables *interface{}) []string {
	if variables == nil {
		return nil
	}
	varMap, ok := (*variables).(map[string]interface{})
	if !ok {
		return nil
	}
	names := make([]string, 0, len(varMap))
	for name := range varMap {
		names = append(names, name)
	}
	return names
}

// Compile-time check that MockClient implements Sender.
var _ Sender = (*MockClient)(nil)

// MockClient records sends instead of calling Twilio (for tests).
type MockClient struct {
	SentTemplates []SentTemplate
	SentMessages  []SentMessage
	Templates     map[string]models.Template
	SendErr       error
	ReportStatus  string
}

type SentTemplate struct {
	To          string
	TemplateSID string
	Variables   map[string]string
}

type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{
		Templates:    map[string]models.Template{},
		ReportStatus: "queued",
	}
}

func (m *MockClient) SendTemplateMessage(ctx context.Context, to string, templateSID string, variables map[string]string) (string, error) {
	if m.SendErr != nil {
		return "", m.SendErr
	}
	m.SentTemplates = append(m.SentTemplates, SentTemplate{To: to, TemplateSID: templateSID, Variables: variables})
	return m.ReportStatus, nil
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) ListContentTemplates(ctx context.Context) (map[string]models.Template, error) {
	return m.Templates, nil
}
