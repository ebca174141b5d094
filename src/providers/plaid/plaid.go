// Package plaid adapts the Plaid transactions/sync API to providers.Provider.
package plaid

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"budgee-sync/src/models"
	"budgee-sync/src/providers"
	"budgee-sync/src/retry"

	"github.com/plaid/plaid-go/v41/plaid"
)

// Error codes meaning the item needs the user to relink it.
var revokedCodes = map[string]bool{
	"ITEM_LOGIN_REQUIRED":  true,
	"INVALID_ACCESS_TOKEN": true,
	"ACCESS_NOT_GRANTED":   true,
	"ITEM_NOT_FOUND":       true,
}

func NewClient(clientID, secret, env string) (*plaid.APIClient, error) {
	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", clientID)
	configuration.AddDefaultHeader("PLAID-SECRET", secret)

	switch env {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	default:
		return nil, fmt.Errorf("invalid plaid environment: %q", env)
	}

	return plaid.NewAPIClient(configuration), nil
}

type Adapter struct {
	client *plaid.APIClient
	policy retry.Policy
}

var _ providers.Provider = (*Adapter)(nil)

func NewAdapter(client *plaid.APIClient, policy retry.Policy) *Adapter {
	return &Adapter{client: client, policy: policy}
}

func (a *Adapter) Name() string { return models.ProviderPlaid }

// RefreshToken returns the stored access token unchanged. Plaid access
// tokens do not expire, so the zero expiry marks them as non-expiring.
func (a *Adapter) RefreshToken(_ context.Context, conn models.Connection) (models.Token, error) {
	return models.Token{AccessToken: conn.AccessToken}, nil
}

func (a *Adapter) ListAccounts(ctx context.Context, accessToken string, conn models.Connection) ([]models.Account, error) {
	resp, err := retry.DoValue(ctx, a.policy, "/accounts/get", func(ctx context.Context) (plaid.AccountsGetResponse, error) {
		request := plaid.NewAccountsGetRequest(accessToken)
		resp, httpResp, err := a.client.PlaidApi.AccountsGet(ctx).AccountsGetRequest(*request).Execute()
		return resp, mapError("/accounts/get", httpResp, err)
	})
	if err != nil {
		return nil, err
	}

	accounts := make([]models.Account, 0, len(resp.GetAccounts()))
	for _, acc := range resp.GetAccounts() {
		balances := acc.GetBalances()
		accounts = append(accounts, models.Account{
			ConnectionID: conn.ID,
			AccountID:    acc.GetAccountId(),
			Name:         acc.GetName(),
			OfficialName: acc.GetOfficialName(),
			Mask:         acc.GetMask(),
			Currency:     balances.GetIsoCurrencyCode(),
			Type:         string(acc.GetType()),
		})
	}
	return accounts, nil
}

// FetchTransactions drains transactions/sync from the connection's cursor.
// since is ignored because the cursor already marks the sync position.
// Pending rows are passed through flagged; removed ids are reported so the
// caller can drop what it stored for them.
func (a *Adapter) FetchTransactions(ctx context.Context, accessToken string, conn models.Connection, _ time.Time) (providers.FetchResult, error) {
	var result providers.FetchResult
	cursor := conn.SyncCursor

	for {
		resp, err := retry.DoValue(ctx, a.policy, "/transactions/sync", func(ctx context.Context) (plaid.TransactionsSyncResponse, error) {
			request := plaid.NewTransactionsSyncRequest(accessToken)
			if cursor != "" {
				request.SetCursor(cursor)
			}
			resp, httpResp, err := a.client.PlaidApi.TransactionsSync(ctx).TransactionsSyncRequest(*request).Execute()
			return resp, mapError("/transactions/sync", httpResp, err)
		})
		if err != nil {
			return providers.FetchResult{}, err
		}

		for _, txn := range resp.GetAdded() {
			raw, err := json.Marshal(txn)
			if err != nil {
				result.Malformed++
				continue
			}
			pt := toPlaidTxn(txn)
			if !accountSelected(conn.AccountIDs, pt.AccountID) {
				continue
			}
			result.Transactions = append(result.Transactions, models.RawTransaction{
				Provider:  models.ProviderPlaid,
				AccountID: pt.AccountID,
				Plaid:     &pt,
				Raw:       raw,
			})
		}

		result.Removed = append(result.Removed, removedIDs(resp.GetRemoved())...)

		cursor = resp.GetNextCursor()
		if !resp.GetHasMore() {
			break
		}
	}

	result.NextCursor = cursor
	return result, nil
}

func toPlaidTxn(txn plaid.Transaction) models.PlaidTxn {
	category := txn.GetPersonalFinanceCategory()
	return models.PlaidTxn{
		TransactionID:       txn.GetTransactionId(),
		AccountID:           txn.GetAccountId(),
		Amount:              txn.GetAmount(),
		IsoCurrencyCode:     txn.GetIsoCurrencyCode(),
		Date:                txn.GetDate(),
		Name:                txn.GetName(),
		MerchantName:        txn.GetMerchantName(),
		OriginalDescription: txn.GetOriginalDescription(),
		PaymentChannel:      txn.GetPaymentChannel(),
		Category:            category.GetPrimary(),
		Pending:             txn.GetPending(),
	}
}

func removedIDs(removed []plaid.RemovedTransaction) []string {
	ids := make([]string, 0, len(removed))
	for _, r := range removed {
		if id := r.GetTransactionId(); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// An empty selection means every account on the item.
func accountSelected(selected []string, accountID string) bool {
	if len(selected) == 0 {
		return true
	}
	for _, id := range selected {
		if id == accountID {
			return true
		}
	}
	return false
}

type errorBody interface {
	Body() []byte
}

type plaidErrorPayload struct {
	ErrorType    string `json:"error_type"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// mapError turns a plaid-go error into a *retry.StatusError so the retry
// classifier and token manager see a uniform failure shape.
func mapError(endpoint string, httpResp *http.Response, err error) error {
	if err == nil {
		return nil
	}
	se := &retry.StatusError{Endpoint: endpoint, Message: err.Error()}
	if httpResp != nil {
		se.StatusCode = httpResp.StatusCode
		se.RetryAfter = retry.ParseRetryAfter(httpResp.Header.Get("Retry-After"), time.Now())
	}

	var eb errorBody
	if errors.As(err, &eb) {
		var payload plaidErrorPayload
		if jsonErr := json.Unmarshal(eb.Body(), &payload); jsonErr == nil && payload.ErrorCode != "" {
			se.OAuthCode = payload.ErrorCode
			se.Message = payload.ErrorMessage
			se.Revoked = revokedCodes[payload.ErrorCode]
		}
	}

	if httpResp == nil {
		return err
	}
	return se
}
