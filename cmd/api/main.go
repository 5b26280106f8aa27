package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"classifieds/internal/adapter/api"
	"classifieds/internal/adapter/api/handler"
	apimiddleware "classifieds/internal/adapter/api/middleware"
	"classifieds/internal/adapter/api/router"
	"classifieds/internal/adapter/repository"
	domainrepo "classifieds/internal/domain/repository"
	"classifieds/internal/infrastructure/auth"
	"classifieds/internal/infrastructure/firebase"
	"classifieds/internal/infrastructure/postgres"
	"classifieds/internal/infrastructure/realtime"
	"classifieds/internal/infrastructure/websocket"
	"classifieds/internal/usecase"
	"classifieds/pkg/config"
	"classifieds/pkg/logger"
)

// stores is the repository set selected by STORE_DRIVER.
type stores struct {
	conversations domainrepo.ConversationRepository
	messages      domainrepo.MessageRepository
	wishlist      domainrepo.WishlistRepository
	feed          domainrepo.MessageFeed
	seeder        handler.DevSeeder
	close         func()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.IsDevelopment()); err != nil {
		logger.Error("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var fb *firebase.Clients
	if cfg.StoreDriver == config.StoreFirestore || cfg.AuthProvider == config.AuthFirebase {
		fb, err = firebase.NewClients(ctx, cfg.FirebaseProject, cfg.FirebaseCredentialsFile,
			cfg.AuthProvider == config.AuthFirebase, cfg.StoreDriver == config.StoreFirestore)
		if err != nil {
			logger.Error("Failed to initialize Firebase: %v", err)
			os.Exit(1)
		}
		defer fb.Close()
	}

	broker := realtime.NewBroker(realtime.DefaultBuffer)
	defer broker.Close()

	s, err := openStores(ctx, cfg, broker, fb)
	if err != nil {
		logger.Error("Failed to open %s store: %v", cfg.StoreDriver, err)
		os.Exit(1)
	}
	defer s.close()

	counter := usecase.NewNotificationCounter(s.messages, s.wishlist)
	hub := usecase.NewNotificationHub(counter, cfg.NotifyDebounce)
	defer hub.Close()
	hub.StartPolling(ctx, cfg.NotifyPollInterval)

	conversationUseCase := usecase.NewConversationUseCase(s.conversations, s.messages)
	messageUseCase := usecase.NewMessageUseCase(s.messages, s.conversations, s.feed)
	chatUseCase := usecase.NewChatUseCase(conversationUseCase, messageUseCase, hub, cfg.NotifySettleDelay)

	var verifier apimiddleware.TokenVerifier
	if cfg.AuthProvider == config.AuthFirebase {
		verifier = fb.Auth
	} else {
		tokens := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiry)
		verifier = tokens
		// Firebase issues its own tokens, so only the JWT provider gets the dev endpoints.
		handler.SetupDevTokenHandler(tokens, s.seeder)
	}

	wsManager := websocket.NewManager(chatUseCase)
	wsManager.Start(ctx)

	handler.Setup(chatUseCase)
	handler.SetupHealthHandler(cfg.StoreDriver)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	if len(cfg.AllowedOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.AllowedOrigins}))
	} else {
		e.Use(middleware.CORS())
	}

	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = api.ErrorHandler

	authMiddleware := apimiddleware.NewAuthMiddleware(verifier)
	wsHandler := handler.NewWebSocketHandler(wsManager, cfg.AllowedOrigins)
	router.Setup(e, authMiddleware, wsHandler, cfg.Environment)

	go func() {
		logger.Info("Starting server on port %s (store=%s, auth=%s)", cfg.ServerPort, cfg.StoreDriver, cfg.AuthProvider)
		if err := e.Start(":" + cfg.ServerPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed: %v", err)
	}
}

func openStores(ctx context.Context, cfg *config.Config, broker *realtime.Broker, fb *firebase.Clients) (*stores, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := postgres.Connect(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		feed := repository.NewPostgresMessageFeed(pool, broker)
		go feed.Run(ctx)
		return &stores{
			conversations: repository.NewPostgresConversationRepository(pool),
			messages:      repository.NewPostgresMessageRepository(pool),
			wishlist:      repository.NewPostgresWishlistRepository(pool),
			feed:          feed,
			close:         pool.Close,
		}, nil

	case config.StoreFirestore:
		client := fb.Firestore
		return &stores{
			conversations: repository.NewFirestoreConversationRepository(client),
			messages:      repository.NewFirestoreMessageRepository(client),
			wishlist:      repository.NewFirestoreWishlistRepository(client),
			feed:          repository.NewFirestoreMessageFeed(client),
			close:         func() {},
		}, nil

	default:
		store := repository.NewMemoryStore(broker)
		return &stores{
			conversations: store,
			messages:      store.MessageStore(),
			wishlist:      store.WishlistStore(),
			feed:          broker,
			seeder:        store,
			close:         func() {},
		}, nil
	}
}
