// Package openbanking talks to a PSD2 aggregator exposing OAuth2 refresh
// grants and JSON account/transaction endpoints.
package openbanking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"budgee-sync/src/models"
	"budgee-sync/src/providers"
	"budgee-sync/src/retry"

	"golang.org/x/oauth2"
)

type Config struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	APIURL       string
	Timeout      time.Duration
	HTTPClient   *http.Client
	Policy       retry.Policy
}

type Client struct {
	http   *http.Client
	oauth  oauth2.Config
	apiURL string
	policy retry.Policy
	now    func() time.Time
}

var _ providers.Provider = (*Client)(nil)

func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.TokenURL == "" || cfg.APIURL == "" {
		return nil, errors.New("openbanking: provider not configured")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		http: httpClient,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL, AuthStyle: oauth2.AuthStyleInParams},
		},
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		policy: cfg.Policy,
		now:    time.Now,
	}, nil
}

func (c *Client) Name() string { return models.ProviderOpenBanking }

func (c *Client) RefreshToken(ctx context.Context, conn models.Connection) (models.Token, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.http)
	tok, err := c.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: conn.RefreshToken}).Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			se := &retry.StatusError{Endpoint: c.oauth.Endpoint.TokenURL, OAuthCode: re.ErrorCode, Message: re.ErrorDescription}
			if re.Response != nil {
				se.StatusCode = re.Response.StatusCode
				se.RetryAfter = retry.ParseRetryAfter(re.Response.Header.Get("Retry-After"), c.now())
			}
			return models.Token{}, se
		}
		return models.Token{}, err
	}
	return models.Token{AccessToken: tok.AccessToken, RefreshToken: tok.RefreshToken, ExpiresAt: tok.Expiry}, nil
}

func (c *Client) ListAccounts(ctx context.Context, accessToken string, conn models.Connection) ([]models.Account, error) {
	var resp accountsResponse
	if err := c.get(ctx, accessToken, "/accounts", nil, &resp); err != nil {
		return nil, err
	}
	accounts := make([]models.Account, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		accounts = append(accounts, models.Account{
			ConnectionID: conn.ID,
			AccountID:    a.UID,
			Name:         a.Name,
			OfficialName: a.Product,
			IBAN:         a.AccountID.IBAN,
			BIC:          a.Servicer.BIC,
			Currency:     a.Currency,
			Type:         a.CashAccountType,
		})
	}
	return accounts, nil
}

// FetchTransactions pages through every account's booked transactions since
// the given date. Entries that are not valid JSON objects are counted and
// skipped; they never fail the batch.
func (c *Client) FetchTransactions(ctx context.Context, accessToken string, conn models.Connection, since time.Time) (providers.FetchResult, error) {
	var result providers.FetchResult
	for _, accountID := range conn.AccountIDs {
		continuation := ""
		for {
			q := url.Values{}
			if !since.IsZero() {
				q.Set("date_from", since.Format("2006-01-02"))
			}
			if continuation != "" {
				q.Set("continuation_key", continuation)
			}

			var page transactionsResponse
			path := "/accounts/" + url.PathEscape(accountID) + "/transactions"
			if err := c.get(ctx, accessToken, path, q, &page); err != nil {
				return providers.FetchResult{}, err
			}

			for _, raw := range page.Transactions {
				var txn models.OpenBankingTxn
				if err := json.Unmarshal(raw, &txn); err != nil {
					result.Malformed++
					continue
				}
				result.Transactions = append(result.Transactions, models.RawTransaction{
					Provider:    models.ProviderOpenBanking,
					AccountID:   accountID,
					OpenBanking: &txn,
					Raw:         append(json.RawMessage(nil), raw...),
				})
			}

			if page.ContinuationKey == "" {
				break
			}
			continuation = page.ContinuationKey
		}
	}
	return result, nil
}

func (c *Client) get(ctx context.Context, accessToken, path string, query url.Values, out interface{}) error {
	endpoint := c.apiURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return c.policy.Do(ctx, "GET "+path, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return c.parseError(resp, path)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
		return nil
	})
}

func (c *Client) parseError(resp *http.Response, path string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	se := &retry.StatusError{
		StatusCode: resp.StatusCode,
		Endpoint:   path,
		RetryAfter: retry.ParseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
	}
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		se.OAuthCode = er.Error
		se.Message = er.Message
	}
	return se
}
