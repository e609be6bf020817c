package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/quantrail/trade-gateway/internal/algo"
	"github.com/quantrail/trade-gateway/internal/auth"
	"github.com/quantrail/trade-gateway/internal/config"
	"github.com/quantrail/trade-gateway/internal/database"
	"github.com/quantrail/trade-gateway/internal/handler"
	"github.com/quantrail/trade-gateway/internal/queue"
	"github.com/quantrail/trade-gateway/internal/repository"
	"github.com/quantrail/trade-gateway/internal/router"
	"github.com/quantrail/trade-gateway/internal/service"
	"github.com/quantrail/trade-gateway/internal/signer"
	"github.com/quantrail/trade-gateway/internal/token"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load() // exits on missing or malformed configuration

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}

	tokens, err := token.NewService(cfg.AccessSecret, cfg.RefreshSecret, cfg.AccessTTL(), cfg.RefreshTTL())
	if err != nil {
		log.Fatalf("token service: %v", err)
	}

	rdb := config.NewRedisClient() // nil when Redis is unreachable
	var nonces signer.NonceStore
	if rdb != nil {
		nonces = signer.NewRedisNonceStore(rdb)
	} else {
		log.Print("redis unavailable; nonce cache and rate limiting run degraded")
		nonces = signer.NewMemoryNonceStore()
	}
	svcSigner := signer.New(cfg.AlgoKey, signer.DefaultWindow, nonces)

	users := repository.NewUserRepo(db)
	refresh := repository.NewTokenRepo(db)
	profiles := repository.NewProfileRepo(db)

	audit := service.NewAuditPublisher()
	sessions := auth.NewManager(users, refresh, tokens, audit, cfg.BcryptCost)
	engine := algo.NewClient(cfg.AlgoURL, svcSigner)

	emit := func(ev queue.SecurityEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = audit.Publish(ctx, ev)
	}

	// Audit trail consumer; reconnects on its own, never stops the server.
	go func() {
		if err := queue.StartAuditConsumer(); err != nil {
			log.Printf("audit consumer stopped: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	router.Register(e, router.Deps{
		Cfg:     cfg,
		Tokens:  tokens,
		Auth:    handler.NewAuthHandler(cfg, sessions, users),
		Profile: handler.NewProfileHandler(profiles, cfg.MasterKey),
		Engine:  handler.NewEngineHandler(engine),
		Admin:   handler.NewAdminHandler(users, sessions, emit),
		Users:   users,
		Signer:  svcSigner,
		Redis:   rdb,
		Audit:   emit,
	})

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
