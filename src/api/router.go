package api

import (
	"budgee-sync/src/handlers"
	"budgee-sync/src/middleware"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const (
	plaidWebhookPath = "/api/webhooks/plaid"

	// SyncJob is the scheduler job the admin run endpoint triggers.
	SyncJob = "sync"
)

// Connections is what the HTTP layer needs from the connection store.
type Connections interface {
	handlers.ConnectionGetter
	handlers.ConnectionResolver
}

type Deps struct {
	Logger      zerolog.Logger
	JWTSecret   string
	CORSOrigins []string
	ReadOnly    bool

	Reconciler handlers.Reconciler
	Audit      handlers.Auditor
	Conns      Connections
	Syncer     handlers.ConnectionSyncer
	Rules      handlers.RuleStore
	Jobs       handlers.JobRunner
	// Verifier is nil when Plaid is not configured; the webhook route is
	// then not mounted.
	Verifier handlers.WebhookVerifier
}

func NewRouter(d Deps) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORSMiddleware(d.CORSOrigins))

	r.Get("/health", handlers.Health)

	r.Route("/api", func(r chi.Router) {
		if d.Verifier != nil {
			r.Post("/webhooks/plaid", handlers.PlaidWebhook(d.Verifier, d.Conns, d.Syncer))
		}

		// Protected routes
		r.With(middleware.JWTAuthMiddleware(d.JWTSecret), middleware.ReadOnlyMiddleware(d.ReadOnly, plaidWebhookPath)).Group(func(r chi.Router) {
			// Reconciliation
			r.Post("/reconcile/entries/{entry_id}/mark-duplicate", handlers.MarkDuplicate(d.Reconciler, d.Audit))
			r.Post("/reconcile/entries/{entry_id}/confirm-separate", handlers.ConfirmSeparate(d.Reconciler, d.Audit))

			// Sync
			r.Post("/sync/connections/{connection_id}", handlers.TriggerSync(d.Conns, d.Syncer))

			// Transaction Rules
			r.Post("/transaction-rules", handlers.CreateTransactionRule(d.Rules))
			r.Get("/transaction-rules", handlers.GetAllTransactionRules(d.Rules))
			r.Get("/transaction-rules/{rule_id}", handlers.GetTransactionRuleByID(d.Rules))
			r.Put("/transaction-rules/{rule_id}", handlers.UpdateTransactionRule(d.Rules))
			r.Delete("/transaction-rules/{rule_id}", handlers.DeleteTransactionRule(d.Rules))
		})

		// Super Admin Routes
		r.With(middleware.JWTAuthMiddleware(d.JWTSecret), middleware.SuperAdminMiddleware).Group(func(r chi.Router) {
			r.Post("/admin/sync/run", handlers.RunJob(d.Jobs, SyncJob))
			r.Get("/admin/scheduler/jobs", handlers.ListJobs(d.Jobs))
		})
	})

	return r
}
