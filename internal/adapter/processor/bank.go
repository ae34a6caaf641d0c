package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"vendor-payouts/config"
	"vendor-payouts/internal/core/domain"
	"vendor-payouts/pkg/apperror"
)

// BankAdapter talks to a direct bank-transfer gateway. The payout account
// token identifies the beneficiary account at the gateway.
type BankAdapter struct {
	baseURL string
	apiKey  string
	client  HTTPClient
}

// NewBankAdapter creates a bank-transfer adapter. A nil client gets a
// default client bounded by cfg.Timeout.
func NewBankAdapter(cfg config.BankConfig, client HTTPClient) *BankAdapter {
	if client == nil {
		client = newHTTPClient(cfg.Timeout)
	}
	return &BankAdapter{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		client:  client,
	}
}

func (a *BankAdapter) Kind() domain.ProcessorKind { return domain.ProcessorBank }

type bankTransferRequest struct {
	AccountToken string `json:"account_token"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Reference    string `json:"reference"`
}

type bankTransfer struct {
	ID            string `json:"id"`
	Reference     string `json:"reference"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

func (a *BankAdapter) InitiateTransfer(ctx context.Context, req domain.TransferRequest) (string, error) {
	raw, err := json.Marshal(bankTransferRequest{
		AccountToken: req.Destination,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Reference:    req.Reference,
	})
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("encode bank transfer: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/transfers", bytes.NewReader(raw))
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("build bank request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Api-Key", a.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	body, err := send(a.client, httpReq, a.Kind(), "initiate", bankReject)
	if err != nil {
		return "", err
	}
	var transfer bankTransfer
	if err := json.Unmarshal(body, &transfer); err != nil || transfer.ID == "" {
		return "", apperror.ErrProcessorTimeout(fmt.Errorf("decode bank transfer: %w", err))
	}
	return transfer.ID, nil
}

func (a *BankAdapter) QueryStatus(ctx context.Context, transferID string) (domain.TransferStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/transfers/"+url.PathEscape(transferID), nil)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("build bank request: %w", err))
	}
	httpReq.Header.Set("X-Api-Key", a.apiKey)

	body, err := send(a.client, httpReq, a.Kind(), "query", statusOnly)
	if err != nil {
		return "", err
	}
	var transfer bankTransfer
	if err := json.Unmarshal(body, &transfer); err != nil {
		return "", apperror.ErrProcessorUnavailable(fmt.Errorf("decode bank transfer: %w", err))
	}
	return bankStatus(transfer.Status), nil
}

type bankAccount struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// VerifyAccount looks the beneficiary up at the gateway; only active
// accounts can receive transfers.
func (a *BankAdapter) VerifyAccount(ctx context.Context, accountToken string) (domain.AccountVerification, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/accounts/"+url.PathEscape(accountToken), nil)
	if err != nil {
		return domain.AccountVerification{}, apperror.InternalError(fmt.Errorf("build bank request: %w", err))
	}
	httpReq.Header.Set("X-Api-Key", a.apiKey)

	body, err := send(a.client, httpReq, a.Kind(), "verify", statusOnly)
	if apperror.HasCode(err, apperror.CodeUnknownTransfer) {
		return domain.VerificationFailedWith("account_not_found"), nil
	}
	if err != nil {
		return domain.AccountVerification{}, err
	}
	var acct bankAccount
	if err := json.Unmarshal(body, &acct); err != nil {
		return domain.AccountVerification{}, apperror.ErrProcessorUnavailable(fmt.Errorf("decode bank account: %w", err))
	}
	if acct.Status != "active" {
		return domain.VerificationFailedWith(firstNonEmpty(acct.Status, "account_inactive")), nil
	}
	return domain.VerificationPassed(), nil
}

func (a *BankAdapter) WebhookSignature(h http.Header) string {
	return h.Get("X-Bank-Signature")
}

// VerifyWebhookSignature checks a hex HMAC-SHA256 of the raw payload.
func (a *BankAdapter) VerifyWebhookSignature(rawPayload []byte, signatureHeader, secret string) bool {
	return verify(SignHex(secret, rawPayload), strings.ToLower(strings.TrimSpace(signatureHeader)))
}

type bankEvent struct {
	EventID  string       `json:"event_id"`
	Type     string       `json:"type"`
	Transfer bankTransfer `json:"transfer"`
}

func (a *BankAdapter) ParseWebhook(rawPayload []byte) (*domain.ParsedWebhook, error) {
	var ev bankEvent
	if err := json.Unmarshal(rawPayload, &ev); err != nil {
		return nil, fmt.Errorf("decode bank event: %w", err)
	}
	parsed := &domain.ParsedWebhook{
		EventID:    ev.EventID,
		EventType:  ev.Type,
		TransferID: ev.Transfer.ID,
		Reference:  ev.Transfer.Reference,
		Status:     bankStatus(ev.Transfer.Status),
	}
	if parsed.Status == domain.TransferFailed {
		parsed.FailureReason = firstNonEmpty(ev.Transfer.FailureReason, ev.Transfer.Status)
	}
	return parsed, nil
}

func bankStatus(s string) domain.TransferStatus {
	switch s {
	case "settled":
		return domain.TransferSucceeded
	case "rejected", "returned":
		return domain.TransferFailed
	default:
		return domain.TransferPending
	}
}

func bankReject(status int, body []byte) error {
	var e struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	_ = json.Unmarshal(body, &e)
	reason := firstNonEmpty(e.Code, e.Message, http.StatusText(status))
	if strings.HasPrefix(e.Code, "amount") || strings.Contains(e.Code, "limit") {
		return apperror.ErrAmountRejected(reason)
	}
	return apperror.ErrAccountInvalid(reason)
}
