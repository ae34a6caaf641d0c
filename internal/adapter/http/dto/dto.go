package dto

// CreatePayoutRequest is the request body for a vendor payout.
// IdempotencyKey may instead arrive in the Idempotency-Key header.
type CreatePayoutRequest struct {
	Amount          int64  `json:"amount" binding:"required,gt=0"`
	PayoutAccountID string `json:"payout_account_id" binding:"required,uuid"`
	IdempotencyKey  string `json:"idempotency_key" binding:"omitempty,max=128,safe_id"`
}

// UpdateScheduleRequest is the request body for changing a payout schedule.
type UpdateScheduleRequest struct {
	ScheduleType  string `json:"schedule_type" binding:"required,oneof=manual weekly bi_weekly monthly"`
	IsActive      *bool  `json:"is_active"`
	AutoProcess   bool   `json:"auto_process"`
	MinimumAmount int64  `json:"minimum_amount" binding:"gte=0"`
}

// PayoutResponse is the vendor-facing view of a payout request.
type PayoutResponse struct {
	ID              string  `json:"id"`
	Reference       string  `json:"reference"`
	VendorID        string  `json:"vendor_id"`
	PayoutAccountID string  `json:"payout_account_id"`
	ProcessorKind   string  `json:"processor_kind"`
	Amount          int64   `json:"amount"`
	FeeAmount       int64   `json:"fee_amount"`
	NetAmount       int64   `json:"net_amount"`
	Currency        string  `json:"currency"`
	State           string  `json:"state"`
	TransferID      *string `json:"transfer_id,omitempty"`
	FailureReason   *string `json:"failure_reason,omitempty"`
	SubmitAttempts  int     `json:"submit_attempts"`
	Source          string  `json:"source"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
	SubmittedAt     *string `json:"submitted_at,omitempty"`
	CompletedAt     *string `json:"completed_at,omitempty"`
}

// TransitionResponse is one entry of a payout's state history.
type TransitionResponse struct {
	FromState string  `json:"from_state,omitempty"`
	ToState   string  `json:"to_state"`
	Actor     string  `json:"actor"`
	Reason    *string `json:"reason,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// PayoutDetailResponse is a payout with its state history.
type PayoutDetailResponse struct {
	PayoutResponse
	History []TransitionResponse `json:"history"`
}

// PayoutListResponse wraps a paginated payout list.
type PayoutListResponse struct {
	Items      []PayoutResponse `json:"items"`
	Total      int64            `json:"total"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	TotalPages int              `json:"total_pages"`
}

// BalanceResponse is the response for a balance query.
type BalanceResponse struct {
	Available    int64  `json:"available"`
	Pending      int64  `json:"pending"`
	Reserved     int64  `json:"reserved"`
	TotalEarned  int64  `json:"total_earned"`
	TotalPaidOut int64  `json:"total_paid_out"`
	Currency     string `json:"currency"`
}

// ScheduleResponse is a vendor's payout schedule.
type ScheduleResponse struct {
	ScheduleType    string  `json:"schedule_type"`
	IsActive        bool    `json:"is_active"`
	AutoProcess     bool    `json:"auto_process"`
	MinimumAmount   int64   `json:"minimum_amount"`
	NextPayoutDate  *string `json:"next_payout_date,omitempty"`
	LastProcessedAt *string `json:"last_processed_at,omitempty"`
}

// PayoutAccountResponse is a payout account after a verification check.
type PayoutAccountResponse struct {
	ID                 string  `json:"id"`
	ProcessorKind      string  `json:"processor_kind"`
	IsPrimary          bool    `json:"is_primary"`
	VerificationStatus string  `json:"verification_status"`
	VerificationReason *string `json:"verification_reason,omitempty"`
	VerifiedAt         *string `json:"verified_at,omitempty"`
}

// WebhookAckResponse acknowledges a processor notification.
type WebhookAckResponse struct {
	Received bool    `json:"received"`
	EventID  string  `json:"event_id,omitempty"`
	Outcome  string  `json:"outcome,omitempty"`
	Reason   *string `json:"reason,omitempty"`
}
