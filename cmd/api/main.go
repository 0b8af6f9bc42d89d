package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	openai "github.com/sashabaranov/go-openai"

	"github.com/smmassistant/avito-ai-platform/internal/amocrm"
	"github.com/smmassistant/avito-ai-platform/internal/api/router"
	"github.com/smmassistant/avito-ai-platform/internal/avito"
	appconfig "github.com/smmassistant/avito-ai-platform/internal/config"
	"github.com/smmassistant/avito-ai-platform/internal/conversation"
	"github.com/smmassistant/avito-ai-platform/internal/http/handlers"
	"github.com/smmassistant/avito-ai-platform/internal/leads"
	"github.com/smmassistant/avito-ai-platform/internal/observability/metrics"
	"github.com/smmassistant/avito-ai-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting avito-ai-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Error("redis unreachable at startup", "addr", cfg.RedisAddr, "error", err)
	}

	registry := prometheus.NewRegistry()
	pipelineMetrics := metrics.NewPipelineMetrics(registry)

	var llm interface {
		CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	}
	if cfg.OpenAIAPIKey != "" {
		llm = openai.NewClient(cfg.OpenAIAPIKey)
	} else {
		logger.Warn("OPENAI_API_KEY not set, replies and qualification run on canned fallbacks")
	}

	avitoTokens := avito.NewTokenManager(avito.TokenConfig{
		BaseURL:       cfg.AvitoBaseURL,
		ClientID:      cfg.AvitoClientID,
		ClientSecret:  cfg.AvitoClientSecret,
		RefreshMargin: cfg.AvitoTokenRefreshMargin,
	}, rdb, logger)
	avitoClient, err := avito.New(avito.Config{
		BaseURL: cfg.AvitoBaseURL,
		UserID:  cfg.AvitoUserID,
	}, avitoTokens, logger)
	if err != nil {
		logger.Error("avito client init failed", "error", err)
		os.Exit(1)
	}

	templates, err := conversation.NewTemplateRegistry()
	if err != nil {
		logger.Error("reply templates failed to parse", "error", err)
		os.Exit(1)
	}

	var recorder conversation.LeadRecorder
	if cfg.AmoCRMBaseURL != "" {
		amoTokens := amocrm.NewTokenManager(amocrm.AuthConfig{
			BaseURL:      cfg.AmoCRMBaseURL,
			ClientID:     cfg.AmoCRMClientID,
			ClientSecret: cfg.AmoCRMSecret,
			RedirectURI:  cfg.AmoCRMRedirectURI,
		}, rdb, logger)
		amoClient, err := amocrm.New(amocrm.Config{BaseURL: cfg.AmoCRMBaseURL}, amoTokens, logger)
		if err != nil {
			logger.Error("amocrm client init failed", "error", err)
			os.Exit(1)
		}
		recorder = leads.NewService(
			amoClient,
			leads.NewCache(rdb, cfg.LeadCacheTTL),
			leads.NewQualifier(llm, cfg.OpenAIModel, logger),
			cfg.AmoCRMPipelineID,
			logger,
			pipelineMetrics,
		)
	} else {
		logger.Warn("AMOCRM_BASE_URL not set, qualified leads will not reach the CRM")
	}

	manager := conversation.NewManager(conversation.ManagerParams{
		Store:      conversation.NewContextStore(rdb, cfg.ConversationTTL, logger),
		Name:       conversation.NewNameExtractor(llm, cfg.OpenAIExtractionModel),
		Phone:      conversation.NewPhoneExtractor(),
		Need:       conversation.NewNeedExtractor(llm, cfg.OpenAIExtractionModel),
		Templates:  templates,
		LLM:        llm,
		Model:      cfg.OpenAIModel,
		Recorder:   recorder,
		Summarizer: conversation.NewSummarizer(llm, cfg.OpenAIModel, logger),
		Thresholds: conversation.Thresholds{
			Name:  cfg.NameExtractionThreshold,
			Phone: cfg.PhoneExtractionThreshold,
			Need:  cfg.NeedExtractionThreshold,
		},
		Logger:  logger,
		Metrics: pipelineMetrics,
	})

	queue := conversation.NewQueue(cfg.QueueCapacity, cfg.WorkerCount, logger, pipelineMetrics)

	var sendDelay time.Duration
	if cfg.AvitoAutoReplyEnabled {
		sendDelay = cfg.AvitoResponseDelay
	}
	sender := conversation.NewReplySender(avitoClient, sendDelay, logger, pipelineMetrics)

	selfID, err := strconv.ParseInt(cfg.AvitoUserID, 10, 64)
	if err != nil {
		logger.Warn("AVITO_USER_ID is not numeric, own-message filtering disabled",
			"value", cfg.AvitoUserID)
	}
	pool := conversation.NewWorkerPool(queue, manager, sender, selfID, logger)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	pool.Start(workerCtx)

	if cfg.AvitoSyncEnabled {
		syncMgr := avito.NewItemSyncManager(avitoClient, rdb, cfg.AvitoSyncInterval, logger)
		go syncMgr.Run(workerCtx)
	}

	handler := router.New(router.Deps{
		Webhook:  handlers.NewWebhookHandler(queue, cfg.AvitoWebhookSecret, logger, pipelineMetrics),
		Admin:    handlers.NewAdminHandler(avitoClient, logger),
		Health:   handlers.NewHealthHandler(rdb),
		Registry: registry,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	// Stop intake first, then let the workers drain what is buffered.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
	queue.Close()

	drained := make(chan struct{})
	go func() {
		pool.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(30 * time.Second):
		logger.Warn("queue drain timed out, cancelling workers")
		cancelWorkers()
		<-drained
	}
	cancelWorkers()

	if err := rdb.Close(); err != nil {
		logger.Error("redis close failed", "error", err)
	}
	logger.Info("shutdown complete")
}
