package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"vendor-payouts/config"
	"vendor-payouts/internal/core/domain"
	"vendor-payouts/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBank_InitiateTransfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		assert.Equal(t, "key_1", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "payout-1", r.Header.Get("Idempotency-Key"))

		var body bankTransferRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, bankTransferRequest{AccountToken: "acct_123", Amount: 4975, Currency: "USD", Reference: "PO-01HX"}, body)

		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"id":"bt_1","status":"pending"}`))
	}))
	defer srv.Close()

	a := NewBankAdapter(config.BankConfig{BaseURL: srv.URL, APIKey: "key_1"}, nil)
	id, err := a.InitiateTransfer(context.Background(), transferReq())
	require.NoError(t, err)
	assert.Equal(t, "bt_1", id)
}

func TestBank_Reject(t *testing.T) {
	tests := []struct {
		body string
		code string
	}{
		{`{"code":"amount_exceeds_limit"}`, apperror.CodeAmountRejected},
		{`{"code":"daily_limit"}`, apperror.CodeAmountRejected},
		{`{"code":"account_closed","message":"closed"}`, apperror.CodeAccountInvalid},
		{`not json`, apperror.CodeAccountInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			assert.Equal(t, tt.code, apperror.CodeOf(bankReject(http.StatusUnprocessableEntity, []byte(tt.body))))
		})
	}
}

func TestBank_QueryStatus(t *testing.T) {
	tests := []struct {
		status string
		want   domain.TransferStatus
	}{
		{"pending", domain.TransferPending},
		{"processing", domain.TransferPending},
		{"settled", domain.TransferSucceeded},
		{"rejected", domain.TransferFailed},
		{"returned", domain.TransferFailed},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/v1/transfers/bt_1", r.URL.Path)
				_, _ = w.Write([]byte(`{"id":"bt_1","status":"` + tt.status + `"}`))
			}))
			defer srv.Close()

			got, err := NewBankAdapter(config.BankConfig{BaseURL: srv.URL}, nil).QueryStatus(context.Background(), "bt_1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBank_Webhook(t *testing.T) {
	a := NewBankAdapter(config.BankConfig{}, nil)
	payload := []byte(`{"event_id":"ev_1","type":"transfer.returned","transfer":{"id":"bt_1","reference":"PO-1","status":"returned","failure_reason":"account_closed"}}`)

	h := http.Header{}
	h.Set("X-Bank-Signature", SignHex("whsec", payload))
	assert.True(t, a.VerifyWebhookSignature(payload, a.WebhookSignature(h), "whsec"))
	assert.False(t, a.VerifyWebhookSignature(payload, a.WebhookSignature(h), "other"))
	assert.False(t, a.VerifyWebhookSignature(payload, "", "whsec"))

	parsed, err := a.ParseWebhook(payload)
	require.NoError(t, err)
	assert.Equal(t, domain.ParsedWebhook{
		EventID: "ev_1", EventType: "transfer.returned", TransferID: "bt_1", Reference: "PO-1",
		Status: domain.TransferFailed, FailureReason: "account_closed",
	}, *parsed)
}

func TestBank_VerifyAccount(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   domain.AccountVerification
	}{
		{"active", http.StatusOK, `{"id":"acct_123","status":"active"}`, domain.VerificationPassed()},
		{"closed", http.StatusOK, `{"id":"acct_123","status":"closed"}`, domain.VerificationFailedWith("closed")},
		{"no status", http.StatusOK, `{"id":"acct_123"}`, domain.VerificationFailedWith("account_inactive")},
		{"unknown", http.StatusNotFound, `{}`, domain.VerificationFailedWith("account_not_found")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/v1/accounts/acct_123", r.URL.Path)
				assert.Equal(t, "key_1", r.Header.Get("X-Api-Key"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			a := NewBankAdapter(config.BankConfig{BaseURL: srv.URL, APIKey: "key_1"}, nil)
			got, err := a.VerifyAccount(context.Background(), "acct_123")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBank_VerifyAccount_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewBankAdapter(config.BankConfig{BaseURL: srv.URL}, nil)
	_, err := a.VerifyAccount(context.Background(), "acct_123")
	assert.Equal(t, apperror.CodeProcessorUnavailable, apperror.CodeOf(err))
}
