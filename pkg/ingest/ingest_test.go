package ingest

import (
	"testing"
	"time"

	"github.com/opsmail/emailpipeline/pkg/types"
)

func validEmail() types.Email {
	return types.Email{
		ID:          "e1",
		MessageID:   "<abc123@example.com>",
		SenderEmail: "buyer@example.com",
		ReceivedAt:  time.Now(),
	}
}

func TestValidator_Validate_AcceptsWellFormedEmail(t *testing.T) {
	v := NewValidator()
	if err := v.Validate(validEmail()); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidator_Validate_RejectsMissingMessageID(t *testing.T) {
	v := NewValidator()
	email := validEmail()
	email.MessageID = ""
	if err := v.Validate(email); err == nil {
		t.Error("Validate() = nil, want error for missing message_id")
	}
}

func TestValidator_Validate_RejectsMissingSenderEmail(t *testing.T) {
	v := NewValidator()
	email := validEmail()
	email.SenderEmail = ""
	if err := v.Validate(email); err == nil {
		t.Error("Validate() = nil, want error for missing sender_email")
	}
}

func TestValidator_Validate_RejectsMalformedSenderEmail(t *testing.T) {
	v := NewValidator()
	email := validEmail()
	email.SenderEmail = "not-an-email"
	if err := v.Validate(email); err == nil {
		t.Error("Validate() = nil, want error for malformed sender_email")
	}
}

func TestValidator_Validate_RejectsZeroReceivedAt(t *testing.T) {
	v := NewValidator()
	email := validEmail()
	email.ReceivedAt = time.Time{}
	if err := v.Validate(email); err == nil {
		t.Error("Validate() = nil, want error for zero received_at")
	}
}
