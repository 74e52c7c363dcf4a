package messaging

import (
	"context"
	"errors"
	"testing"

	"github.com/CarePingHQ/CarePing/internal/models"
	"github.com/CarePingHQ/CarePing/internal/twiliosms"
)

func TestTwilioServiceValidateAndCanonicalizeRecipient(t *testing.T) {
	s := NewTwilioService(twiliosms.NewMockClient())

	tests := []struct {
		name      string
		recipient string
		want      string
		wantErr   bool
	}{
		{"plain number", "15551234567", "15551234567", false},
		{"plus prefix", "+15551234567", "15551234567", false},
		{"formatted", "+1 (555) 123-4567", "15551234567", false},
		{"whatsapp prefix", "whatsapp:+15551234567", "15551234567", false},
		{"empty", "", "", true},
		{"no digits", "not-a-number", "", true},
		{"too short", "12345", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.ValidateAndCanonicalizeRecipient(tc.recipient)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error for %q", tc.recipient)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestTwilioServiceSendTemplateMessage(t *testing.T) {
	mock := twiliosms.NewMockClient()
	s := NewTwilioService(mock)

	tmpl := models.Template{SID: "HX123", Body: "Hi {{recipient_name}}"}
	variables := map[string]string{"recipient_name": "Maya"}

	status, err := s.SendTemplateMessage(context.Background(), "+1 (555) 010-0200", tmpl, variables)
	if err != nil {
		t.Fatalf("SendTemplateMessage failed: %v", err)
	}
	if status != "queued" {
		t.Errorf("expected queued, got %s", status)
	}
	if len(mock.SentTemplates) != 1 {
		t.Fatalf("expected 1 sent template, got %d", len(mock.SentTemplates))
	}
	sent := mock.SentTemplates[0]
	if sent.To != "+15550100200" {
		t.Errorf("expected canonicalized number with plus, got %s", sent.To)
	}
	if sent.TemplateSID != "HX123" {
		t.Errorf("expected HX123, got %s", sent.TemplateSID)
	}
	if sent.Variables["recipient_name"] != "Maya" {
		t.Errorf("expected variables forwarded, got %v", sent.Variables)
	}
}

func TestTwilioServiceSendError(t *testing.T) {
	mock := twiliosms.NewMockClient()
	mock.SendErr = errors.New("twilio rejected the message")
	s := NewTwilioService(mock)

	_, err := s.SendTemplateMessage(context.Background(), "+15550100", models.Template{SID: "HX1"}, nil)
	if err == nil {
		t.Error("expected send error to propagate")
	}
}

func TestTwilioServiceStop(t *testing.T) {
	mock := twiliosms.NewMockClient()
	s := NewTwilioService(mock)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	_, err := s.SendTemplateMessage(context.Background(), "+15550100", models.Template{SID: "HX1"}, nil)
	if !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	if len(mock.SentTemplates) != 0 {
		t.Errorf("expected no sends after stop, got %d", len(mock.SentTemplates))
	}
}
