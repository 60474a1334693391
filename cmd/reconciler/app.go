package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/andreasstove999/lead-portal/reconciler-go/internal/audit"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/checkout"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/clients"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/config"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/confirmation"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/db"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/dedup"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/dispatch"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/events"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/gateway/parcelowgw"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/gateway/stripegw"
	httpapi "github.com/andreasstove999/lead-portal/reconciler-go/internal/http"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/lead"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/logging"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/netsync"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/notify"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/payment"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/proof"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/reconcile"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/token"
	"github.com/andreasstove999/lead-portal/reconciler-go/internal/webhook"
)

// app holds the process-wide dependencies. close releases them in reverse
// order of acquisition.
type app struct {
	cfg    config.Config
	logger *logrus.Logger

	pool  *pgxpool.Pool
	sqlDB *sql.DB
	amqp  *amqp.Connection

	payments *payment.PostgresRepository
	leads    *lead.PostgresRepository
	audit    audit.Repository
	alerter  notify.Alerter
	async    *netsync.Async
	syncer   *netsync.Syncer
}

func loadConfig() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logging.New(cfg.LogLevel), nil
}

func newApp(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	// --- DB ---
	pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	a.pool = pool

	if cfg.RunMigrations {
		if err := db.RunMigrations(cfg.DatabaseDSN, logger); err != nil {
			a.close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
	}

	sqlDB, err := db.OpenSQL(cfg.DatabaseDSN)
	if err != nil {
		a.close()
		return nil, err
	}
	a.sqlDB = sqlDB

	a.payments = payment.NewPostgresRepository(pool)
	a.leads = lead.NewPostgresRepository(pool)
	a.audit = audit.NewRepository(sqlDB)
	a.alerter = notify.NewAlerter(notify.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.AlertFrom,
		To:       cfg.AlertTo,
	}, logger)

	// --- partner network ---
	if cfg.NetworkBaseURL == "" {
		a.close()
		return nil, fmt.Errorf("NETWORK_BASE_URL is required")
	}
	base, err := clients.NewClient("network", cfg.NetworkBaseURL, &http.Client{Timeout: cfg.UpstreamTimeout})
	if err != nil {
		a.close()
		return nil, err
	}
	network := netsync.NewClient(base, cfg.NetworkServiceKey)
	a.syncer = netsync.NewSyncer(a.payments, a.leads, netsync.NewResolver(network, logger), network, logger)
	a.async = netsync.NewAsync(a.syncer, cfg.UpstreamTimeout, logger)

	return a, nil
}

// publisher dials the broker when one is configured.
func (a *app) publisher() (events.PaymentPublisher, error) {
	if a.cfg.RabbitMQURL == "" {
		a.logger.Info("payment events disabled: RABBITMQ_URL not set")
		return events.Noop{}, nil
	}
	conn, pub, err := events.Dial(a.cfg.RabbitMQURL)
	if err != nil {
		return nil, err
	}
	a.amqp = conn
	return pub, nil
}

func (a *app) router() (http.Handler, error) {
	cfg := a.cfg

	pub, err := a.publisher()
	if err != nil {
		return nil, err
	}

	issuer := token.NewIssuer(token.NewPostgresRepository(a.pool), token.Options{
		TTL:      cfg.TokenTTL,
		LinkPath: cfg.TokenLinkPath,
	}, a.logger)
	effects := confirmation.NewEffects(a.async, pub, issuer, a.logger)

	stripe := stripegw.NewClient(stripegw.Options{
		APIKey:     cfg.StripeAPIKey,
		SuccessURL: cfg.StripeSuccessURL,
		CancelURL:  cfg.StripeCancelURL,
	}, a.logger)
	parcelow, err := parcelowgw.NewClient(parcelowgw.Options{
		BaseURL:      cfg.ParcelowBaseURL,
		TokenURL:     cfg.ParcelowTokenURL,
		ClientID:     cfg.ParcelowClientID,
		ClientSecret: cfg.ParcelowClientSecret,
		RedirectURL:  cfg.ParcelowRedirectURL,
		Timeout:      cfg.UpstreamTimeout,
	})
	if err != nil {
		return nil, err
	}

	deps := webhook.Deps{
		Payments:    a.payments,
		Checkpoints: dedup.NewRepository(a.pool),
		Audit:       a.audit,
		Effects:     effects,
		Alerter:     a.alerter,
		Policy:      cfg.UnverifiedPolicy,
		RefPrefix:   cfg.LocalReferencePrefix,
		Logger:      a.logger,
	}
	if len(cfg.StripeWebhookSecrets) == 0 {
		a.logger.Warn("STRIPE_WEBHOOK_SECRETS not set: every stripe event is unverified")
	}
	if len(cfg.ParcelowWebhookSecrets) == 0 {
		a.logger.Warn("PARCELOW_WEBHOOK_SECRETS not set: every parcelow event is unverified")
	}

	partner, err := partnerFromURL(cfg.PartnerWebhookURL, cfg.UpstreamTimeout)
	if err != nil {
		return nil, err
	}
	dispatcher := dispatch.NewDispatcher(
		webhook.NewParcelowIngestor(cfg.ParcelowWebhookSecrets, deps),
		a.payments,
		partner,
		cfg.LocalReferencePrefix,
		a.audit,
		a.logger,
	)

	h := httpapi.NewHandler(httpapi.Deps{
		Logger:          a.logger,
		StripeWebhook:   webhook.NewStripeIngestor(cfg.StripeWebhookSecrets, stripe, deps),
		ParcelowWebhook: dispatcher,
		Leads:           a.leads,
		Payments:        a.payments,
		Checkout: checkout.NewService(a.leads, a.payments, stripe, parcelow, checkout.Config{
			Amount:    cfg.DefaultAmount,
			Currency:  cfg.DefaultCurrency,
			RefPrefix: cfg.LocalReferencePrefix,
		}, a.logger),
		Proofs: proof.NewWorkflow(proof.NewPostgresRepository(a.pool), a.payments, issuer, effects, proof.Defaults{
			Amount:   cfg.DefaultAmount,
			Currency: cfg.DefaultCurrency,
		}, a.logger),
		StaffSecret: []byte(cfg.StaffJWTSecret),
	})
	return httpapi.NewRouter(h), nil
}

// sweeper builds the partner sync sweep. A batch of zero uses the default.
func (a *app) sweeper(batch int) *reconcile.Sweeper {
	return reconcile.NewSweeper(a.payments, a.syncer, reconcile.Options{
		Grace:         a.cfg.SyncSweepGrace,
		Batch:         batch,
		RatePerSecond: a.cfg.SyncRatePerSecond,
	}, a.logger)
}

// partnerFromURL splits the partner webhook URL into a client bound to its
// origin and the path events are relayed to. An empty URL disables relaying.
func partnerFromURL(raw string, timeout time.Duration) (dispatch.Partner, error) {
	if raw == "" {
		return dispatch.Partner{}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return dispatch.Partner{}, fmt.Errorf("PARTNER_WEBHOOK_URL: %w", err)
	}
	origin := &url.URL{Scheme: u.Scheme, Host: u.Host}
	c, err := clients.NewClient("partner", origin.String(), &http.Client{Timeout: timeout})
	if err != nil {
		return dispatch.Partner{}, err
	}
	return dispatch.Partner{Client: c, Path: u.Path}, nil
}

// close waits for background work, then releases connections.
func (a *app) close() {
	if a.async != nil {
		a.async.Wait()
	}
	if m, ok := a.alerter.(*notify.Mailer); ok {
		m.Wait()
	}
	if a.amqp != nil {
		_ = a.amqp.Close()
	}
	if a.sqlDB != nil {
		_ = a.sqlDB.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
