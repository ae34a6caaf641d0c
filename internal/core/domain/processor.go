package domain

// TransferStatus is the processor-side status of a transfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferSucceeded TransferStatus = "succeeded"
	TransferFailed    TransferStatus = "failed"
)

// IsTerminal returns true if the processor has finished with the transfer.
func (s TransferStatus) IsTerminal() bool {
	return s == TransferSucceeded || s == TransferFailed
}

// TransferRequest is the processor-agnostic instruction to move funds.
type TransferRequest struct {
	Destination    string // processor-side account token
	Amount         int64  // net amount, minor units
	Currency       string
	IdempotencyKey string
	Reference      string // payout reference, echoed back by processors
}

// ParsedWebhook is a processor notification normalised by its adapter.
type ParsedWebhook struct {
	EventID       string
	EventType     string
	TransferID    string
	Reference     string
	Status        TransferStatus
	FailureReason string
}
