package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"tapcore/internal/config"
	"tapcore/internal/db"
	"tapcore/internal/model"
	"tapcore/internal/repository"
	"tapcore/internal/vault"
)

// Seeds a demo account with a custodial signing key, a card with limits and a
// merchant, for local development against a ledger gateway stub.
func main() {
	log.Println("Starting seed script...")

	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	gormDB, err := db.NewMySQL(cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	log.Println("Connected to database")

	if err := gormDB.AutoMigrate(
		&model.Account{},
		&model.Card{},
		&model.Merchant{},
		&model.WalletSecret{},
		&model.Transaction{},
		&model.AuthorizationLog{},
	); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	ctx := context.Background()
	accountRepo := repository.NewAccountRepository(gormDB)
	cardRepo := repository.NewCardRepository(gormDB)
	merchantRepo := repository.NewMerchantRepository(gormDB)
	secretRepo := repository.NewWalletSecretRepository(gormDB)

	secretVault, err := vault.New(secretRepo, cfg.VaultMasterKey, logrus.New())
	if err != nil {
		log.Fatalf("vault init: %v", err)
	}

	account := &model.Account{
		Name:   "Demo Cardholder",
		Email:  "demo@example.com",
		Active: true,
	}
	if err := accountRepo.Create(ctx, account); err != nil {
		log.Fatalf("Failed to create account: %v", err)
	}
	log.Printf("Created account %s", account.ID)

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Fatalf("Failed to generate signing key: %v", err)
	}
	if err := secretVault.Store(ctx, account.ID, priv); err != nil {
		log.Fatalf("Failed to store wallet secret: %v", err)
	}
	log.Println("Stored encrypted wallet secret")

	now := time.Now().UTC()
	card := &model.Card{
		AccountID:              account.ID,
		Status:                 model.CardStatusActive,
		SingleTransactionLimit: decimal.NewFromInt(50),
		DailyLimit:             decimal.NewFromInt(100),
		MonthlyLimit:           decimal.NewFromInt(1000),
		DailySpent:             decimal.Zero,
		MonthlySpent:           decimal.Zero,
		LastResetDate:          now,
		ExpiryDate:             now.AddDate(3, 0, 0),
	}
	if err := cardRepo.Create(ctx, card); err != nil {
		log.Fatalf("Failed to create card: %v", err)
	}
	log.Printf("Created card %s", card.ID)

	merchant := &model.Merchant{
		Name:             "Demo Coffee",
		ReceivingAddress: "f0e1d2c3b4a5968778695a4b3c2d1e0f1a2b3c4d5e6f708192a3b4c5d6e7f809",
		Active:           true,
	}
	if err := merchantRepo.Create(ctx, merchant); err != nil {
		log.Fatalf("Failed to create merchant: %v", err)
	}
	log.Printf("Created merchant %s", merchant.ID)

	log.Println("Seed completed")
}
