// Package main wires a synchronizer session against a configured backend
// and logs projection changes. No rendering: this is plumbing for local
// runs and debugging.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/harborchat/chatsync/internal/channel"
	"github.com/harborchat/chatsync/internal/channel/natschannel"
	"github.com/harborchat/chatsync/internal/channel/wschannel"
	"github.com/harborchat/chatsync/internal/config"
	"github.com/harborchat/chatsync/internal/gateway"
	"github.com/harborchat/chatsync/internal/model"
	"github.com/harborchat/chatsync/internal/session"
	"github.com/harborchat/chatsync/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	userID := os.Getenv("CHAT_USER_ID")
	if userID == "" {
		log.Error("CHAT_USER_ID is required")
		os.Exit(1)
	}

	var ch channel.Channel
	switch cfg.ChannelTransport {
	case "nats":
		ch = natschannel.New(natschannel.Options{
			URL:           cfg.NATSURL,
			Token:         cfg.NATSToken,
			SubjectPrefix: natschannel.DefaultSubjectPrefix + "." + userID,
			Logger:        log,
		})
	default:
		ch = wschannel.New(wschannel.Options{
			URL:    cfg.ChannelURL + "?token=" + cfg.AuthToken,
			Token:  cfg.AuthToken,
			Logger: log,
		})
	}

	gw := gateway.NewHTTPGateway(cfg.APIBaseURL, cfg.AuthToken, cfg.RequestTimeout, log)

	sess := session.New(session.Config{
		Gateway:      gw,
		Channel:      ch,
		Self:         model.User{ID: userID},
		TypingTTL:    cfg.TypingTTL,
		HydrateLimit: cfg.HydrateLimit,
		Logger:       log,
	})

	off := sess.Subscribe(func(c session.Change) {
		log.Info("projection changed",
			zap.String("kind", string(c.Kind)),
			zap.String("conversation_id", c.ConversationID),
		)
	})
	defer off()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := sess.Start(ctx); err != nil {
		log.Error("failed to start session", zap.Error(err))
		os.Exit(1)
	}
	log.Info("session started", zap.Int("conversations", len(sess.Conversations())))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("stopping session")
	if err := sess.Stop(); err != nil {
		log.Warn("session stop failed", zap.Error(err))
	}
}
