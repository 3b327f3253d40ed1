// Package ingest implements the validation boundary an incoming Email
// crosses before it is allowed past the Pipeline Orchestrator's Ingest
// entry point, per spec.md §7's ValidationReject error kind: "email
// missing required fields -> never retried; recorded, no downstream
// work."
package ingest

import (
	"github.com/go-playground/validator/v10"

	pipelineerrors "github.com/opsmail/emailpipeline/pkg/shared/errors"
	"github.com/opsmail/emailpipeline/pkg/types"
)

// Validator checks an inbound Email against the validate struct tags
// already declared on types.Email (id, message_id, sender_email as a
// well-formed address, received_at), mirroring the same
// github.com/go-playground/validator/v10 usage pkg/analyst and
// pkg/strategist apply to parsed model output.
type Validator struct {
	validate *validator.Validate
}

// NewValidator builds a Validator. Stateless beyond the compiled
// validator instance, safe for concurrent use.
func NewValidator() *Validator {
	return &Validator{validate: validator.New()}
}

// Validate returns a non-nil error if email fails any validate tag on
// types.Email. The returned error is a ValidationReject per spec.md §7:
// it is never retryable (pipelineerrors.IsRetryable returns false for
// it) and callers must not enqueue the email for any phase.
func (v *Validator) Validate(email types.Email) error {
	if err := v.validate.Struct(email); err != nil {
		return pipelineerrors.ValidationError("email", err.Error())
	}
	return nil
}
