package xordrive

import (
	"fmt"
	"time"
)

// Security limits to prevent DoS attacks.
// These can be overridden via ValidationConfig.
const (
	// DefaultMaxRecordSize is the maximum size of a single record in bytes.
	// Prevents memory exhaustion from oversized records.
	DefaultMaxRecordSize = 4 * 1024 * 1024 // 4 MB

	// DefaultMaxNoticeEntries is the maximum number of keys in one
	// replication notice. A neighbour's whole inventory fits comfortably;
	// anything larger is hostile.
	DefaultMaxNoticeEntries = 100000

	// DefaultMaxAddressLen is the maximum raw length of a network address.
	DefaultMaxAddressLen = 1024

	// DefaultMaxSpendInputs is the maximum inputs in a spend's parent
	// transaction.
	DefaultMaxSpendInputs = 100

	// DefaultMaxSpendOutputs is the maximum outputs in a spend's spent
	// transaction.
	DefaultMaxSpendOutputs = 100

	// DefaultMaxSpendReasonLen is the maximum byte length of a spend reason.
	DefaultMaxSpendReasonLen = 1024

	// DefaultMaxQuoteDrift is the maximum time a quote timestamp can be in
	// the future.
	DefaultMaxQuoteDrift = 60 * time.Second
)

// ValidationConfig configures validation limits.
type ValidationConfig struct {
	// MaxRecordSize is the maximum size of a single record in bytes.
	MaxRecordSize int

	// MaxNoticeEntries is the maximum keys per replication notice.
	MaxNoticeEntries int

	// MaxAddressLen is the maximum raw length of a network address.
	MaxAddressLen int

	// MaxSpendInputs is the maximum inputs per spend.
	MaxSpendInputs int

	// MaxSpendOutputs is the maximum outputs per spend.
	MaxSpendOutputs int

	// MaxSpendReasonLen is the maximum byte length of a spend reason.
	MaxSpendReasonLen int

	// MaxQuoteDrift is the maximum time a quote can be in the future.
	MaxQuoteDrift time.Duration
}

// DefaultValidationConfig returns a ValidationConfig with default limits.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		MaxRecordSize:     DefaultMaxRecordSize,
		MaxNoticeEntries:  DefaultMaxNoticeEntries,
		MaxAddressLen:     DefaultMaxAddressLen,
		MaxSpendInputs:    DefaultMaxSpendInputs,
		MaxSpendOutputs:   DefaultMaxSpendOutputs,
		MaxSpendReasonLen: DefaultMaxSpendReasonLen,
		MaxQuoteDrift:     DefaultMaxQuoteDrift,
	}
}

// Validator provides input validation for data arriving off the wire.
// All methods are safe for concurrent use.
type Validator struct {
	cfg ValidationConfig
}

// NewValidator creates a new Validator with the given configuration.
func NewValidator(cfg ValidationConfig) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateRecord validates a record before it is stored or accumulated.
func (v *Validator) ValidateRecord(rec Record) error {
	if len(rec.Key.Bytes()) == 0 {
		return &ValidationError{Type: "record", Field: "key", Message: "empty address"}
	}
	if len(rec.Key.Bytes()) > v.cfg.MaxAddressLen {
		return &ValidationError{
			Type:    "record",
			Field:   "key",
			Message: fmt.Sprintf("address too long: %d bytes (max: %d)", len(rec.Key.Bytes()), v.cfg.MaxAddressLen),
		}
	}
	if len(rec.Value) > v.cfg.MaxRecordSize {
		return &ValidationError{
			Type:    "record",
			Field:   "value",
			Message: fmt.Sprintf("record too large: %d bytes (max: %d)", len(rec.Value), v.cfg.MaxRecordSize),
		}
	}
	return nil
}

// ValidateReplicationNotice validates an incoming key advertisement.
func (v *Validator) ValidateReplicationNotice(holder PeerID, entries []RecordEntry) error {
	if holder == "" {
		return &ValidationError{Type: "notice", Field: "holder", Message: "empty holder id"}
	}
	if len(entries) > v.cfg.MaxNoticeEntries {
		return &ValidationError{
			Type:    "notice",
			Field:   "entries",
			Message: fmt.Sprintf("too many keys: %d (max: %d)", len(entries), v.cfg.MaxNoticeEntries),
		}
	}
	for i, entry := range entries {
		if len(entry.Addr.Bytes()) == 0 {
			return &ValidationError{
				Type:    "notice",
				Field:   "entries",
				Message: fmt.Sprintf("entry %d has an empty address", i),
			}
		}
		if len(entry.Addr.Bytes()) > v.cfg.MaxAddressLen {
			return &ValidationError{
				Type:    "notice",
				Field:   "entries",
				Message: fmt.Sprintf("entry %d address too long: %d bytes (max: %d)", i, len(entry.Addr.Bytes()), v.cfg.MaxAddressLen),
			}
		}
	}
	return nil
}

// ValidateSpend validates a spend's shape before signature verification.
// Signature and arithmetic checks are the spend's own Verify methods; this
// only enforces size limits.
func (v *Validator) ValidateSpend(spend *SignedSpend) error {
	if spend == nil {
		return &ValidationError{Type: "spend", Message: "spend is nil"}
	}
	if len(spend.Spend.UniquePubkey) == 0 {
		return &ValidationError{Type: "spend", Field: "unique_pubkey", Message: "empty pubkey"}
	}
	if len(spend.Spend.ParentTx.Inputs) > v.cfg.MaxSpendInputs {
		return &ValidationError{
			Type:    "spend",
			Field:   "parent_tx",
			Message: fmt.Sprintf("too many inputs: %d (max: %d)", len(spend.Spend.ParentTx.Inputs), v.cfg.MaxSpendInputs),
		}
	}
	if len(spend.Spend.SpentTx.Outputs) > v.cfg.MaxSpendOutputs {
		return &ValidationError{
			Type:    "spend",
			Field:   "spent_tx",
			Message: fmt.Sprintf("too many outputs: %d (max: %d)", len(spend.Spend.SpentTx.Outputs), v.cfg.MaxSpendOutputs),
		}
	}
	if len(spend.Spend.Reason) > v.cfg.MaxSpendReasonLen {
		return &ValidationError{
			Type:    "spend",
			Field:   "reason",
			Message: fmt.Sprintf("reason too long: %d bytes (max: %d)", len(spend.Spend.Reason), v.cfg.MaxSpendReasonLen),
		}
	}
	if len(spend.DerivedKeySig) == 0 {
		return &ValidationError{Type: "spend", Field: "signature", Message: "missing signature"}
	}
	return nil
}

// ValidateQuote validates a payment quote's shape and timestamp.
func (v *Validator) ValidateQuote(q *PaymentQuote) error {
	if q == nil {
		return &ValidationError{Type: "quote", Message: "quote is nil"}
	}
	if len(q.PubKey) != BLSPublicKeyLen {
		return &ValidationError{
			Type:    "quote",
			Field:   "pubkey",
			Message: fmt.Sprintf("bad public key length: %d (want %d)", len(q.PubKey), BLSPublicKeyLen),
		}
	}
	if len(q.Signature) != BLSSignatureLen {
		return &ValidationError{
			Type:    "quote",
			Field:   "signature",
			Message: fmt.Sprintf("bad signature length: %d (want %d)", len(q.Signature), BLSSignatureLen),
		}
	}
	if q.Timestamp.After(time.Now().Add(v.cfg.MaxQuoteDrift)) {
		return &ValidationError{
			Type:    "quote",
			Field:   "timestamp",
			Message: fmt.Sprintf("timestamp too far in future (max drift: %v)", v.cfg.MaxQuoteDrift),
		}
	}
	return nil
}

// ValidationError wraps a validation error with additional context.
type ValidationError struct {
	Type    string // "record", "notice", "spend", "quote"
	Field   string // Specific field that failed validation
	Message string // Human-readable error message
	Cause   error  // Underlying error if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s validation failed: %s: %s", e.Type, e.Field, e.Message)
	}
	return fmt.Sprintf("%s validation failed: %s", e.Type, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// IsValidationError returns true if err is a ValidationError.
func IsValidationError(err error) bool {
	_, ok := err.(*ValidationError)
	return ok
}
