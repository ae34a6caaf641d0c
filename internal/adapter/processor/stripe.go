package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"vendor-payouts/config"
	"vendor-payouts/internal/core/domain"
	"vendor-payouts/pkg/apperror"
	"vendor-payouts/pkg/metrics"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/account"
	"github.com/stripe/stripe-go/v82/payout"
	"github.com/stripe/stripe-go/v82/webhook"
)

// stripeSignatureTolerance bounds the age of a signed webhook timestamp.
const stripeSignatureTolerance = 5 * time.Minute

// StripeAdapter pays out from Stripe connected accounts. The payout account
// token is the connected account id.
type StripeAdapter struct {
	payouts  payout.Client
	accounts account.Client
	timeout  time.Duration
}

// NewStripeAdapter creates a Stripe adapter with its own backend, so several
// adapters (or tests) can point at different keys and hosts. Each call is
// bounded by cfg.Timeout through its context.
func NewStripeAdapter(cfg config.StripeConfig, client *http.Client) *StripeAdapter {
	if client == nil {
		client = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient: client,
		// One attempt per call; the payout state machine owns retries.
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.BaseURL != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(cfg.BaseURL, "/"))
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)
	return &StripeAdapter{
		payouts:  payout.Client{B: backend, Key: cfg.SecretKey},
		accounts: account.Client{B: backend, Key: cfg.SecretKey},
		timeout:  timeout,
	}
}

func (a *StripeAdapter) Kind() domain.ProcessorKind { return domain.ProcessorStripe }

func (a *StripeAdapter) InitiateTransfer(ctx context.Context, req domain.TransferRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	params := &stripe.PayoutParams{
		Amount:      stripe.Int64(req.Amount),
		Currency:    stripe.String(strings.ToLower(req.Currency)),
		Description: stripe.String(req.Reference),
	}
	params.Context = ctx
	params.AddMetadata("reference", req.Reference)
	params.SetStripeAccount(req.Destination)
	params.SetIdempotencyKey(req.IdempotencyKey)

	started := time.Now()
	po, err := a.payouts.New(params)
	if err == nil && po.ID == "" {
		err = errAcceptedUnreadable
	}
	if err != nil {
		err = stripeFault(ctx, err, stripeReject)
	}
	metrics.ObserveProcessorCall(string(a.Kind()), "initiate", resultLabel(err), started)
	if err != nil {
		return "", err
	}
	return po.ID, nil
}

func (a *StripeAdapter) QueryStatus(ctx context.Context, transferID string) (domain.TransferStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	params := &stripe.PayoutParams{}
	params.Context = ctx

	started := time.Now()
	po, err := a.payouts.Get(transferID, params)
	if err != nil {
		err = stripeFault(ctx, err, func(se *stripe.Error) error {
			if se.Code == stripe.ErrorCodeResourceMissing {
				return apperror.ErrUnknownTransfer()
			}
			return apperror.ErrProcessorUnavailable(se)
		})
	}
	metrics.ObserveProcessorCall(string(a.Kind()), "query", resultLabel(err), started)
	if err != nil {
		return "", err
	}
	return stripeStatus(po.Status), nil
}

// VerifyAccount checks that the connected account exists and can receive payouts.
func (a *StripeAdapter) VerifyAccount(ctx context.Context, accountToken string) (domain.AccountVerification, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	params := &stripe.AccountParams{}
	params.Context = ctx

	started := time.Now()
	acct, err := a.accounts.GetByID(accountToken, params)
	var verdict domain.AccountVerification
	if err != nil {
		err = stripeFault(ctx, err, func(se *stripe.Error) error {
			if se.Code == stripe.ErrorCodeResourceMissing || se.Code == "account_invalid" {
				verdict = domain.VerificationFailedWith(firstNonEmpty(string(se.Code), "account_not_found"))
				return nil
			}
			return apperror.ErrProcessorUnavailable(se)
		})
	} else {
		verdict = stripeAccountVerdict(acct)
	}
	metrics.ObserveProcessorCall(string(a.Kind()), "verify", resultLabel(err), started)
	if err != nil {
		return domain.AccountVerification{}, err
	}
	return verdict, nil
}

func stripeAccountVerdict(acct *stripe.Account) domain.AccountVerification {
	if acct.PayoutsEnabled {
		return domain.VerificationPassed()
	}
	reason := "payouts_disabled"
	if acct.Requirements != nil && acct.Requirements.DisabledReason != "" {
		reason = string(acct.Requirements.DisabledReason)
	}
	return domain.VerificationFailedWith(reason)
}

func (a *StripeAdapter) WebhookSignature(h http.Header) string {
	return h.Get("Stripe-Signature")
}

// VerifyWebhookSignature checks a "t=<unix>,v1=<hex>" header and rejects
// timestamps outside the tolerance window.
func (a *StripeAdapter) VerifyWebhookSignature(rawPayload []byte, signatureHeader, secret string) bool {
	return webhook.ValidatePayloadWithTolerance(rawPayload, signatureHeader, secret, stripeSignatureTolerance) == nil
}

func (a *StripeAdapter) ParseWebhook(rawPayload []byte) (*domain.ParsedWebhook, error) {
	var ev stripe.Event
	if err := json.Unmarshal(rawPayload, &ev); err != nil {
		return nil, fmt.Errorf("decode stripe event: %w", err)
	}
	if ev.Data == nil {
		return nil, errors.New("stripe event has no data")
	}
	var po stripe.Payout
	if err := json.Unmarshal(ev.Data.Raw, &po); err != nil {
		return nil, fmt.Errorf("decode stripe payout: %w", err)
	}

	parsed := &domain.ParsedWebhook{
		EventID:    ev.ID,
		EventType:  string(ev.Type),
		TransferID: po.ID,
		Reference:  po.Metadata["reference"],
	}
	switch ev.Type {
	case "payout.paid":
		parsed.Status = domain.TransferSucceeded
	case "payout.failed", "payout.canceled":
		parsed.Status = domain.TransferFailed
		parsed.FailureReason = string(po.FailureCode)
	default:
		parsed.Status = stripeStatus(po.Status)
	}
	return parsed, nil
}

func stripeStatus(s stripe.PayoutStatus) domain.TransferStatus {
	switch s {
	case stripe.PayoutStatusPaid:
		return domain.TransferSucceeded
	case stripe.PayoutStatusFailed, stripe.PayoutStatusCanceled:
		return domain.TransferFailed
	default:
		return domain.TransferPending
	}
}

var errAcceptedUnreadable = errors.New("stripe accepted the payout but returned no id")

// stripeFault maps a stripe-go error onto the processor taxonomy. API errors
// with a final 4xx status go to final; everything else is transient.
func stripeFault(ctx context.Context, err error, final func(*stripe.Error) error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.HTTPStatusCode >= 500,
			se.HTTPStatusCode == http.StatusTooManyRequests,
			se.HTTPStatusCode == http.StatusConflict,
			se.HTTPStatusCode == http.StatusUnauthorized,
			se.HTTPStatusCode == http.StatusForbidden,
			se.HTTPStatusCode == 0,
			se.Type == stripe.ErrorTypeAPI,
			se.Type == stripe.ErrorTypeIdempotency:
			return apperror.ErrProcessorUnavailable(se)
		}
		return final(se)
	}

	switch {
	case errors.Is(err, errAcceptedUnreadable):
		// Accepted without an id: the transfer exists, we just don't know it.
		return apperror.ErrProcessorTimeout(err)
	case isTimeout(err), ctx.Err() != nil:
		return apperror.ErrProcessorTimeout(err)
	}
	// Includes 2xx bodies that fail to decode. Resubmitting reuses the
	// idempotency key, so the processor answers with the same payout.
	return apperror.ErrProcessorUnavailable(err)
}

func stripeReject(se *stripe.Error) error {
	code := string(se.Code)
	reason := firstNonEmpty(code, se.Msg, http.StatusText(se.HTTPStatusCode))
	if se.Param == "amount" || strings.HasPrefix(code, "amount_") || se.Code == stripe.ErrorCodeBalanceInsufficient {
		return apperror.ErrAmountRejected(reason)
	}
	return apperror.ErrAccountInvalid(reason)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
