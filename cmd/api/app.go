package main

import (
	"database/sql"
	"fmt"
	"time"

	"voice-gateway/internal/admission"
	"voice-gateway/internal/audit"
	"voice-gateway/internal/auth"
	"voice-gateway/internal/billing"
	"voice-gateway/internal/calls"
	"voice-gateway/internal/config"
	"voice-gateway/internal/httpapi"
	"voice-gateway/internal/ledger"
	"voice-gateway/internal/notify"
	"voice-gateway/internal/pricing"
	"voice-gateway/internal/reporting"
	"voice-gateway/internal/routing"
	"voice-gateway/internal/telephony"
	"voice-gateway/internal/voice"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// app holds the wired process dependencies. It has no behavior of its own.
type app struct {
	cfg  config.Config
	db   *sql.DB
	rdb  *redis.Client
	auth *auth.Manager

	alerts *notify.Dispatcher
	voice  *voice.Service
	api    httpapi.Handlers
}

func newApp(cfg config.Config, db *sql.DB, rdb *redis.Client) (*app, error) {
	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("auth init failed: %w", err)
	}

	pricingSvc := pricing.NewService(pricing.NewPostgresRepo(db))
	ledgerSvc := ledger.NewService(ledger.NewPostgresStore(db), pricingSvc)
	admissionCtl := admission.NewController(ledgerSvc, pricingSvc)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	routingStore := routing.NewPostgresStore(db)
	engine := routing.NewEngine(routingStore, routingStore, nil)
	engine.Cursor = routing.NewRedisCursor(rdb)
	engine.Forwards = routing.NewForwardEngine(routingStore, routing.AuditAdapter{Audit: auditSvc})

	alerts := notify.NewDispatcher(
		notify.NewStreamPublisher(rdb, cfg.Alerts.Stream, cfg.Alerts.StreamMaxLen),
		cfg.Alerts.BufferSize,
	)
	billingSvc := billing.NewService(ledgerSvc, alerts, billing.Thresholds{
		Warning:  decimal.NewFromInt(int64(cfg.Alerts.WarningThreshold)),
		Critical: decimal.NewFromInt(int64(cfg.Alerts.CriticalThreshold)),
	})

	callSvc := calls.NewService(calls.NewPostgresRepo(db)).
		WithAgentReleaser(engine).
		WithEventLog(auditSvc)
	callSvc.AddTerminalHook("billing", billingSvc)

	voiceSvc := voice.NewService(voice.Config{
		PublicBaseURL:          cfg.Twilio.PublicBaseURL,
		RingTimeoutSeconds:     cfg.Voice.RingTimeoutSeconds,
		InboundEstimateMinutes: cfg.Voice.InboundEstimateMinutes,
		RecordOutbound:         cfg.Voice.RecordOutbound,
		HoldMusicURL:           cfg.Voice.HoldMusicURL,
		VoicemailPrompt:        cfg.Voice.VoicemailPrompt,
		VoicemailMaxSeconds:    cfg.Voice.VoicemailMaxSeconds,
	}, admissionCtl, callSvc, engine, routingStore, auditSvc)
	if cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != "" {
		voiceSvc.WithCarrier(telephony.NewTwilioClient(cfg.Twilio.APIBaseURL, cfg.Twilio.AccountSID, cfg.Twilio.AuthToken))
	}
	if cfg.Voice.MaxConcurrentCalls > 0 {
		voiceSvc.WithSlots(voice.NewRedisSlots(rdb, cfg.Voice.MaxConcurrentCalls, 2*time.Hour))
	}

	return &app{
		cfg:    cfg,
		db:     db,
		rdb:    rdb,
		auth:   authManager,
		alerts: alerts,
		voice:  voiceSvc,
		api: httpapi.Handlers{
			Auth:      authManager,
			Admission: admissionCtl,
			Voice:     voiceSvc,
			Calls:     callSvc,
			Billing:   billingSvc,
			Ledger:    ledgerSvc,
			Audit:     auditSvc,
			Reporting: reporting.NewService(reporting.NewPostgresRepo(db)),
			Routing:   engine,
		},
	}, nil
}
