package plaid

import (
	"errors"
	"net/http"
	"testing"

	"budgee-sync/src/apperrors"
	"budgee-sync/src/retry"

	"github.com/plaid/plaid-go/v41/plaid"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPIError struct {
	body []byte
}

func (e fakeAPIError) Error() string { return "400 Bad Request" }
func (e fakeAPIError) Body() []byte  { return e.body }

func TestNewClient_RejectsUnknownEnvironment(t *testing.T) {
	_, err := NewClient("id", "secret", "staging")
	assert.Error(t, err)

	c, err := NewClient("id", "secret", "sandbox")
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestMapError_LoginRequiredIsFatal(t *testing.T) {
	apiErr := fakeAPIError{body: []byte(`{"error_type":"ITEM_ERROR","error_code":"ITEM_LOGIN_REQUIRED","error_message":"login required"}`)}
	err := mapError("/transactions/sync", &http.Response{StatusCode: http.StatusBadRequest, Header: http.Header{}}, apiErr)

	var se *retry.StatusError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Revoked)
	assert.Equal(t, "ITEM_LOGIN_REQUIRED", se.OAuthCode)
	assert.Equal(t, apperrors.Fatal, apperrors.KindOf(err))
	assert.Equal(t, retry.NonRetryable, retry.Classify(err))
}

func TestMapError_RateLimitRetryable(t *testing.T) {
	apiErr := fakeAPIError{body: []byte(`{"error_type":"RATE_LIMIT_EXCEEDED","error_code":"TRANSACTIONS_SYNC_LIMIT"}`)}
	h := http.Header{}
	h.Set("Retry-After", "2")
	err := mapError("/transactions/sync", &http.Response{StatusCode: http.StatusTooManyRequests, Header: h}, apiErr)

	var se *retry.StatusError
	require.True(t, errors.As(err, &se))
	assert.False(t, se.Revoked)
	assert.Equal(t, retry.Retryable, retry.Classify(err))
	assert.Equal(t, apperrors.Transient, apperrors.KindOf(err))
}

func TestMapError_NoResponsePassesThrough(t *testing.T) {
	base := errors.New("dial tcp: connection refused")
	assert.Same(t, base, mapError("/accounts/get", nil, base))
	assert.NoError(t, mapError("/accounts/get", nil, nil))
}

func TestAccountSelected(t *testing.T) {
	assert.True(t, accountSelected(nil, "a"))
	assert.True(t, accountSelected([]string{"a", "b"}, "b"))
	assert.False(t, accountSelected([]string{"a"}, "c"))
}

func TestToPlaidTxn_CarriesPending(t *testing.T) {
	var txn plaid.Transaction
	txn.SetTransactionId("p-pending")
	txn.SetAccountId("plaid-acc")
	txn.SetAmount(12.5)
	txn.SetName("BIEDRONKA 123")
	txn.SetPending(true)

	pt := toPlaidTxn(txn)
	assert.Equal(t, "p-pending", pt.TransactionID)
	assert.Equal(t, "plaid-acc", pt.AccountID)
	assert.True(t, pt.Pending)
}

func TestRemovedIDs(t *testing.T) {
	var a, blank plaid.RemovedTransaction
	a.SetTransactionId("p-pending")

	assert.Equal(t, []string{"p-pending"}, removedIDs([]plaid.RemovedTransaction{a, blank}))
	assert.Empty(t, removedIDs(nil))
}
