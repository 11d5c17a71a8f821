package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/zhouzirui/agora/backend/internal/config"
	"github.com/zhouzirui/agora/backend/internal/handler"
	"github.com/zhouzirui/agora/backend/internal/model/persona"
	"github.com/zhouzirui/agora/backend/internal/service/ai"
	"github.com/zhouzirui/agora/backend/internal/service/chat"
	"github.com/zhouzirui/agora/backend/internal/service/conversation"
	"github.com/zhouzirui/agora/backend/internal/service/speech"
	"github.com/zhouzirui/agora/backend/internal/service/state"
)

const audioPathPrefix = "/api/audio/"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	personaStore := persona.NewMemoryStore(persona.Seed())
	if _, ok := personaStore.FindByID(cfg.Session.DefaultRole); !ok {
		log.Printf("warning: default role %q is not in the persona catalogue", cfg.Session.DefaultRole)
	}
	chatService := chat.NewService(cfg.Session.DefaultRole, state.WithBufferSize(cfg.Session.EventBuffer))
	defer chatService.Shutdown()

	var replier ai.Replier = ai.NewTemplateReplier()
	if cfg.AI.Enabled() {
		aiService, err := ai.NewService(ctx, personaStore, cfg.AI)
		if err != nil {
			log.Printf("warning: failed to initialize AI service: %v", err)
			log.Println("falling back to template replies")
		} else {
			replier = aiService
			log.Println("AI service initialized successfully")
		}
	} else {
		log.Println("Ark 凭证未配置，使用模板回复")
	}

	opts := []conversation.Option{conversation.WithPersonas(personaStore)}

	var audioCache *speech.AudioCache
	if cfg.Speech.Enabled {
		speechService := speech.NewService(cfg.Speech)
		audioCache = speech.NewAudioCache(cfg.Session.AudioTTL, audioPathPrefix)
		go audioCache.RunSweeper(ctx, time.Minute)

		opts = append(opts,
			conversation.WithTranscriber(speechService),
			conversation.WithSynthesizer(speechService, audioCache),
		)
		log.Println("Speech service initialized successfully")
	} else {
		log.Println("语音服务凭证未配置，跳过语音功能初始化")
	}

	pipeline := conversation.New(replier, opts...)
	router := handler.NewRouter(personaStore, chatService, pipeline, audioCache)

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("Agora backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
