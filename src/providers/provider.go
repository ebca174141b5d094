// Package providers defines the contract every open-banking adapter meets and
// a registry to look adapters up by connection provider name.
package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"budgee-sync/src/models"
)

type FetchResult struct {
	Transactions []models.RawTransaction
	// NextCursor is the provider's incremental sync position, if it has one.
	NextCursor string
	// Malformed counts payload entries that could not be decoded at all.
	Malformed int
	// Removed lists provider transaction ids the provider has withdrawn.
	Removed []string
}

// Provider is one aggregator. Implementations retry their own HTTP calls and
// report failures as *retry.StatusError or *retry.ExhaustedError.
// ListAccounts returns account details, including the servicing BIC where
// the provider reports one.
type Provider interface {
	Name() string
	RefreshToken(ctx context.Context, conn models.Connection) (models.Token, error)
	ListAccounts(ctx context.Context, accessToken string, conn models.Connection) ([]models.Account, error)
	FetchTransactions(ctx context.Context, accessToken string, conn models.Connection, since time.Time) (FetchResult, error)
}

type Registry struct {
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p. Panics on a duplicate name.
func (r *Registry) Register(p Provider) {
	key := strings.ToLower(p.Name())
	if _, ok := r.providers[key]; ok {
		panic("duplicate provider: " + key)
	}
	r.providers[key] = p
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("no provider registered for %q", name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	return names
}
