package main

import (
	"context"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tapcore/internal/cache"
	"tapcore/internal/chain"
	"tapcore/internal/clock"
	"tapcore/internal/config"
	"tapcore/internal/db"
	"tapcore/internal/handler"
	"tapcore/internal/model"
	"tapcore/internal/notify"
	"tapcore/internal/repository"
	"tapcore/internal/router"
	"tapcore/internal/service"
	"tapcore/internal/vault"
)

func main() {
	_ = godotenv.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}

	e := echo.New()
	e.Use(middleware.RequestID())

	gormDB, err := db.NewMySQL(cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("database init: %v", err)
	}

	// Run migrations for all models
	if err := gormDB.AutoMigrate(
		&model.Account{},
		&model.Card{},
		&model.Merchant{},
		&model.WalletSecret{},
		&model.Transaction{},
		&model.AuthorizationLog{},
	); err != nil {
		log.Fatalf("auto-migrate: %v", err)
	}

	cacheClient := cache.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	systemClock := clock.System()
	decisionCache := cache.NewDecisionCache(cacheClient, cfg.DecisionCacheTTL, systemClock)

	// Initialize repositories
	cardRepo := repository.NewCardRepository(gormDB)
	merchantRepo := repository.NewMerchantRepository(gormDB)
	transactionRepo := repository.NewTransactionRepository(gormDB)
	secretRepo := repository.NewWalletSecretRepository(gormDB)
	authLogRepo := repository.NewAuthorizationLogRepository(gormDB)

	// Initialize collaborators
	secretVault, err := vault.New(secretRepo, cfg.VaultMasterKey, log)
	if err != nil {
		log.Fatalf("vault init: %v", err)
	}
	chainClient := chain.NewHTTPClient(cfg.ChainGatewayURL, cfg.ChainSubmitTimeout, log)

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.AMQPURL != "" {
		amqpNotifier, err := notify.NewAMQPNotifier(cfg.AMQPURL, cfg.AMQPExchange, log)
		if err != nil {
			log.WithError(err).Warn("amqp unavailable, notifications disabled")
		} else {
			notifier = amqpNotifier
		}
	}

	networkFee, err := decimal.NewFromString(cfg.NetworkFee)
	if err != nil {
		log.Fatalf("parse NETWORK_FEE: %v", err)
	}

	// Initialize services
	limitLedger := service.NewLimitLedger(cardRepo, decisionCache, systemClock, log)
	authzService := service.NewAuthorizationService(cardRepo, limitLedger, decisionCache, authLogRepo, systemClock, log)
	paymentService := service.NewPaymentService(
		cardRepo, merchantRepo, transactionRepo,
		authzService, limitLedger, secretVault, chainClient, notifier,
		systemClock, log,
		service.PaymentConfig{
			SubmitTimeout:        cfg.ChainSubmitTimeout,
			FinalityPollInterval: cfg.FinalityPollInterval,
			FinalityPollAttempts: cfg.FinalityPollAttempts,
			NetworkFee:           networkFee,
		},
	)
	cardAdminService := service.NewCardAdminService(cardRepo, limitLedger, decisionCache, systemClock, log)
	reconcileService := service.NewReconcileService(
		transactionRepo, limitLedger, chainClient,
		func(ctx context.Context, tx *model.Transaction) {
			go notifier.TransactionTerminal(context.Background(), notify.EventFromTransaction(tx, systemClock.Now()))
		},
		systemClock, log, cfg.ReconcileStaleAfter,
	)

	// Periodic reconciliation of transactions stuck in processing
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.ReconcileSchedule, func() {
		settled, err := reconcileService.Run(context.Background())
		if err != nil {
			log.WithError(err).Error("reconcile sweep")
			return
		}
		if settled > 0 {
			log.WithField("settled", settled).Info("reconcile sweep settled transactions")
		}
	}); err != nil {
		log.Fatalf("schedule reconcile: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Initialize handlers
	paymentHandler := handler.NewPaymentHandler(paymentService)
	adminHandler := handler.NewAdminHandler(cardAdminService, authzService)

	// Register routes
	router.Register(e, cfg, paymentHandler, adminHandler)

	addr := ":" + cfg.ServerPort
	if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server start: %v", err)
	}
}
