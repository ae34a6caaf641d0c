package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"vendor-payouts/config"
	"vendor-payouts/internal/core/domain"
	"vendor-payouts/pkg/apperror"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// tokenRefreshMargin renews an OAuth token this long before it expires.
const tokenRefreshMargin = time.Minute

// PayPalAdapter talks to a PayPal-style batch payouts API. The payout
// account token is the recipient's PayPal email or payer id.
type PayPalAdapter struct {
	baseURL      string
	clientID     string
	clientSecret string
	client       HTTPClient
	now          func() time.Time

	mu          sync.Mutex
	accessToken string
	expiresAt   time.Time
}

// NewPayPalAdapter creates a PayPal adapter against cfg.URL(). A nil
// client gets a default client bounded by cfg.Timeout.
func NewPayPalAdapter(cfg config.PayPalConfig, client HTTPClient) *PayPalAdapter {
	if client == nil {
		client = newHTTPClient(cfg.Timeout)
	}
	return &PayPalAdapter{
		baseURL:      strings.TrimRight(cfg.URL(), "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		client:       client,
		now:          time.Now,
	}
}

func (a *PayPalAdapter) Kind() domain.ProcessorKind { return domain.ProcessorPayPal }

type paypalAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type paypalPayoutRequest struct {
	SenderBatchHeader struct {
		SenderBatchID string `json:"sender_batch_id"`
		EmailSubject  string `json:"email_subject,omitempty"`
	} `json:"sender_batch_header"`
	Items []paypalItem `json:"items"`
}

type paypalItem struct {
	RecipientType string       `json:"recipient_type"`
	Receiver      string       `json:"receiver"`
	Amount        paypalAmount `json:"amount"`
	SenderItemID  string       `json:"sender_item_id"`
}

type paypalBatch struct {
	BatchHeader struct {
		PayoutBatchID string `json:"payout_batch_id"`
		BatchStatus   string `json:"batch_status"`
	} `json:"batch_header"`
}

type paypalError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
	Details []struct {
		Field string `json:"field"`
		Issue string `json:"issue"`
	} `json:"details"`
}

func (a *PayPalAdapter) InitiateTransfer(ctx context.Context, req domain.TransferRequest) (string, error) {
	token, err := a.token(ctx)
	if err != nil {
		return "", err
	}

	var payload paypalPayoutRequest
	payload.SenderBatchHeader.SenderBatchID = req.IdempotencyKey
	payload.SenderBatchHeader.EmailSubject = "You have a payout"
	payload.Items = []paypalItem{{
		RecipientType: paypalRecipientType(req.Destination),
		Receiver:      req.Destination,
		Amount:        paypalAmount{Value: decimal.New(req.Amount, -2).StringFixed(2), Currency: strings.ToUpper(req.Currency)},
		SenderItemID:  req.Reference,
	}}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("encode paypal payout: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/payments/payouts", bytes.NewReader(raw))
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("build paypal request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	// Replays with the same request id return the original batch.
	httpReq.Header.Set("PayPal-Request-Id", req.IdempotencyKey)

	body, err := send(a.client, httpReq, a.Kind(), "initiate", paypalReject)
	if err != nil {
		return "", err
	}
	var batch paypalBatch
	if err := json.Unmarshal(body, &batch); err != nil || batch.BatchHeader.PayoutBatchID == "" {
		return "", apperror.ErrProcessorTimeout(fmt.Errorf("decode paypal batch: %w", err))
	}
	return batch.BatchHeader.PayoutBatchID, nil
}

func (a *PayPalAdapter) QueryStatus(ctx context.Context, transferID string) (domain.TransferStatus, error) {
	token, err := a.token(ctx)
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/v1/payments/payouts/"+url.PathEscape(transferID), nil)
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("build paypal request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)

	body, err := send(a.client, httpReq, a.Kind(), "query", statusOnly)
	if err != nil {
		return "", err
	}
	var batch paypalBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		return "", apperror.ErrProcessorUnavailable(fmt.Errorf("decode paypal batch: %w", err))
	}
	return paypalBatchStatus(batch.BatchHeader.BatchStatus), nil
}

// token returns a cached OAuth2 client-credentials token, fetching a new
// one when it is missing or about to expire.
func (a *PayPalAdapter) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.accessToken != "" && a.now().Before(a.expiresAt) {
		return a.accessToken, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", apperror.InternalError(fmt.Errorf("build paypal token request: %w", err))
	}
	httpReq.SetBasicAuth(a.clientID, a.clientSecret)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// No transfer has been attempted yet, so every failure here is transient.
	body, err := send(a.client, httpReq, a.Kind(), "token", func(status int, body []byte) error {
		return apperror.ErrProcessorUnavailable(fmt.Errorf("token status %d: %s", status, truncate(body)))
	})
	if err != nil {
		if apperror.HasCode(err, apperror.CodeProcessorTimeout) {
			return "", apperror.ErrProcessorUnavailable(err)
		}
		return "", err
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		return "", apperror.ErrProcessorUnavailable(fmt.Errorf("decode paypal token: %w", err))
	}
	a.accessToken = tok.AccessToken
	a.expiresAt = a.now().Add(time.Duration(tok.ExpiresIn)*time.Second - tokenRefreshMargin)
	return a.accessToken, nil
}

// receiverRules validates PayPal receivers without a network call.
var receiverRules = validator.New()

func paypalRecipientType(receiver string) string {
	if strings.Contains(receiver, "@") {
		return "EMAIL"
	}
	return "PAYPAL_ID"
}

// VerifyAccount checks the receiver is a well-formed email or a 13-character
// payer id. PayPal only confirms the receiver when a payout lands.
func (a *PayPalAdapter) VerifyAccount(ctx context.Context, accountToken string) (domain.AccountVerification, error) {
	rule := "required,len=13,alphanum,uppercase"
	if paypalRecipientType(accountToken) == "EMAIL" {
		rule = "required,email"
		if _, host, _ := strings.Cut(accountToken, "@"); !strings.Contains(host, ".") {
			return domain.VerificationFailedWith("invalid_receiver"), nil
		}
	}
	if err := receiverRules.Var(accountToken, rule); err != nil {
		return domain.VerificationFailedWith("invalid_receiver"), nil
	}
	return domain.VerificationPassed(), nil
}

// WebhookSignature joins the transmission headers PayPal signs over as
// "<id>|<time>|<signature>".
func (a *PayPalAdapter) WebhookSignature(h http.Header) string {
	return strings.Join([]string{
		h.Get("Paypal-Transmission-Id"),
		h.Get("Paypal-Transmission-Time"),
		h.Get("Paypal-Transmission-Sig"),
	}, "|")
}

// VerifyWebhookSignature checks base64(HMAC-SHA256("<id>|<time>|<crc32>")).
func (a *PayPalAdapter) VerifyWebhookSignature(rawPayload []byte, signatureHeader, secret string) bool {
	parts := strings.Split(signatureHeader, "|")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return false
	}
	crc := strconv.FormatUint(uint64(crc32.ChecksumIEEE(rawPayload)), 10)
	expected := SignBase64(secret, []byte(parts[0]+"|"+parts[1]+"|"+crc))
	return verify(expected, parts[2])
}

type paypalEvent struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		PayoutBatchID     string `json:"payout_batch_id"`
		TransactionStatus string `json:"transaction_status"`
		PayoutItem        struct {
			SenderItemID string `json:"sender_item_id"`
		} `json:"payout_item"`
		Errors struct {
			Name string `json:"name"`
		} `json:"errors"`
	} `json:"resource"`
}

func (a *PayPalAdapter) ParseWebhook(rawPayload []byte) (*domain.ParsedWebhook, error) {
	var ev paypalEvent
	if err := json.Unmarshal(rawPayload, &ev); err != nil {
		return nil, fmt.Errorf("decode paypal event: %w", err)
	}

	parsed := &domain.ParsedWebhook{
		EventID:    ev.ID,
		EventType:  ev.EventType,
		TransferID: ev.Resource.PayoutBatchID,
		Reference:  ev.Resource.PayoutItem.SenderItemID,
		Status:     domain.TransferPending,
	}
	switch ev.EventType {
	case "PAYMENT.PAYOUTS-ITEM.SUCCEEDED":
		parsed.Status = domain.TransferSucceeded
	case "PAYMENT.PAYOUTS-ITEM.FAILED", "PAYMENT.PAYOUTS-ITEM.CANCELED", "PAYMENT.PAYOUTS-ITEM.DENIED",
		"PAYMENT.PAYOUTS-ITEM.RETURNED", "PAYMENT.PAYOUTS-ITEM.BLOCKED":
		parsed.Status = domain.TransferFailed
		parsed.FailureReason = firstNonEmpty(ev.Resource.Errors.Name, strings.ToLower(ev.Resource.TransactionStatus))
	}
	return parsed, nil
}

func paypalBatchStatus(s string) domain.TransferStatus {
	switch s {
	case "SUCCESS":
		return domain.TransferSucceeded
	case "DENIED", "CANCELED":
		return domain.TransferFailed
	default:
		return domain.TransferPending
	}
}

func paypalReject(status int, body []byte) error {
	var e paypalError
	_ = json.Unmarshal(body, &e)
	reason := firstNonEmpty(e.Name, e.Message, http.StatusText(status))
	if strings.Contains(strings.ToUpper(e.Name), "AMOUNT") {
		return apperror.ErrAmountRejected(reason)
	}
	for _, d := range e.Details {
		if strings.Contains(d.Field, "amount") || strings.Contains(strings.ToUpper(d.Issue), "AMOUNT") {
			return apperror.ErrAmountRejected(firstNonEmpty(d.Issue, reason))
		}
	}
	return apperror.ErrAccountInvalid(reason)
}
