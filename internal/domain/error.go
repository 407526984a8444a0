package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound             = errors.New("entity not found")
	ErrAlreadyExists        = errors.New("entity already exists")
	ErrInvalidArgument      = errors.New("invalid argument")
	ErrInvalidExecContext   = errors.New("invalid execution context")
	ErrOperationFailed      = errors.New("operation failed")
	ErrReadDatabaseRow      = errors.New("failed to read database row")
	ErrLockNotAcquired      = errors.New("transaction is being processed by another worker")
	ErrDuplicateTransaction = errors.New("gateway transaction already processed")
	ErrInsufficientFunds    = errors.New("insufficient client funds")
	ErrGatewayDisabled      = errors.New("payment gateway is disabled")
	ErrAdminRequired        = errors.New("administrator context required")
)

// PublicPaymentError is the only text a payer ever sees for adapter-level failures.
const PublicPaymentError = "payment could not be processed"

// ConfigurationError reports missing or invalid gateway credentials.
// It is raised when an adapter is constructed and is meant for administrators.
type ConfigurationError struct {
	Gateway string
	Field   string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: configuration field '%s' is invalid: %s", e.Gateway, e.Field, e.Reason)
	}
	return fmt.Sprintf("%s: required configuration field '%s' is missing", e.Gateway, e.Field)
}

// GatewayUnavailableError wraps a failed or malformed response from a remote gateway.
// Body holds the raw response for logs and must never be rendered to a payer.
type GatewayUnavailableError struct {
	Gateway    string
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s: gateway unavailable: %v", e.Gateway, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: gateway returned HTTP %d", e.Gateway, e.Op, e.StatusCode)
}

func (e *GatewayUnavailableError) Unwrap() error { return e.Err }

// VerificationError rejects an inbound callback: bad signature, unsupported event, missing fields.
type VerificationError struct {
	Gateway string
	Reason  string
	Err     error
}

func (e *VerificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: callback verification failed: %s: %v", e.Gateway, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: callback verification failed: %s", e.Gateway, e.Reason)
}

func (e *VerificationError) Unwrap() error { return e.Err }

// ReconciliationError leaves the transaction in received for manual review.
type ReconciliationError struct {
	TransactionID string
	Reason        string
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile transaction %s: %s", e.TransactionID, e.Reason)
}

type UnsupportedOperationError struct {
	Gateway   string
	Operation string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Gateway, e.Operation)
}

type UnknownGatewayError struct {
	Name string
}

func (e *UnknownGatewayError) Error() string {
	return fmt.Sprintf("unknown payment gateway %q", e.Name)
}

// PublicMessage maps any error to text that is safe to show to a payer.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var rec *ReconciliationError
	if errors.As(err, &rec) {
		return "payment received and awaiting review"
	}
	return PublicPaymentError
}
