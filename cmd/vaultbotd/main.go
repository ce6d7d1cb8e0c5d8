package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"vaultbot/internal/bot"
	"vaultbot/internal/classify"
	"vaultbot/internal/config"
	"vaultbot/internal/dedup"
	"vaultbot/internal/gitsync"
	"vaultbot/internal/status"
	"vaultbot/internal/vault"
	"vaultbot/internal/watch"
)

func main() {
	cfg := config.Load()

	if cfg.LogFile != "" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    20, // MB
			MaxBackups: 5,
			MaxAge:     30, // days
		})
	}

	if cfg.TelegramToken == "" {
		log.Fatal("TELEGRAM_BOT_TOKEN is required")
	}
	if len(cfg.AllowedUserIDs) == 0 {
		log.Fatal("TELEGRAM_ALLOWED_USER_IDS is required")
	}

	structure, err := vault.LoadStructure(cfg.StructureFile)
	if err != nil {
		log.Fatalf("vault structure: %v", err)
	}

	writer, err := vault.NewWriter(cfg.VaultPath, cfg.AttachmentsDir)
	if err != nil {
		log.Fatalf("vault writer: %v", err)
	}

	repo, err := gitsync.NewGitRepository(cfg.VaultPath, cfg.GitRemote, cfg.GitBranch)
	if err != nil {
		log.Fatalf("vault repository: %v", err)
	}

	defaultChoice := gitsync.ChoiceRemote
	if cfg.ConflictDefault == "local" {
		defaultChoice = gitsync.ChoiceLocal
	}
	engine := gitsync.New(repo, gitsync.Options{
		QuietPeriod:    cfg.CommitQuiet,
		PullInterval:   cfg.PullInterval,
		ConflictWindow: cfg.ConflictWindow,
		DefaultChoice:  defaultChoice,
	})

	llmClient := classify.NewClient(cfg.OpenRouterAPIKey, cfg.OpenRouterBaseURL)
	classifier := classify.New(llmClient, cfg.ClassifierModel)

	var dedupSvc *dedup.Service
	if cfg.RedisURL != "" {
		cache, err := dedup.NewRedisCache(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer cache.Close()
		embedder := dedup.NewOpenAIEmbedder(llmClient, cfg.EmbeddingModel)
		dedupSvc = dedup.NewService(cfg.VaultPath, cfg.AttachmentsDir, embedder, cache, cfg.DedupThreshold)
	} else {
		log.Printf("REDIS_URL not set, duplicate detection disabled")
	}

	tgBot, err := bot.New(cfg.TelegramToken, cfg.AllowedUserIDs, classifier, writer, engine, structure, dedupSvc)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}
	engine.SetNotifier(tgBot)

	if err := engine.Start(); err != nil {
		log.Fatalf("sync engine: %v", err)
	}
	defer engine.Close()

	watcher, err := watch.New(cfg.VaultPath, engine.MarkDirty)
	if err != nil {
		log.Fatalf("vault watcher: %v", err)
	}
	if err := watcher.Start(); err != nil {
		log.Fatalf("vault watcher: %v", err)
	}
	defer watcher.Close()

	statusServer := &http.Server{
		Addr:              cfg.StatusAddr,
		Handler:           status.New(engine).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() {
		log.Printf("status server listening on %s", cfg.StatusAddr)
		if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("status server failed: %v", err)
		}
	}()

	done := make(chan struct{})
	go tgBot.Run(done)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutting down")

	close(done)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("status server shutdown error: %v", err)
	}

	// Flush anything still waiting on the debounce timer before exit.
	engine.ForceSync()
}
