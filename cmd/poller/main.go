package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nattapongs/credit-wallet/internal/config"
	"github.com/nattapongs/credit-wallet/internal/line"
	"github.com/nattapongs/credit-wallet/internal/logger"
	"github.com/nattapongs/credit-wallet/internal/model"
	"github.com/nattapongs/credit-wallet/internal/repo"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// The poller drains the outbox written by the server's transactions. Kafka
// events and platform notifications are both best-effort side effects here;
// the wallet state they describe is already durable.
func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger()
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalf("open postgres: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.LeastBytes{},
	}

	session := line.NewSession(cfg.Line, log)
	defer session.Close()
	repository := repo.NewRepository(gdb, rdb, kw, log)

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	log.Info("credit-wallet poller started")
	for range ticker.C {
		ctx := context.Background()
		events, err := repository.PollOutbox(ctx, 100)
		if err != nil {
			log.Errorf("poll outbox: %v", err)
			continue
		}
		for _, evt := range events {
			deliver(ctx, repository, session, log, evt)
		}
	}
}

func deliver(ctx context.Context, r *repo.Repository, session *line.Session, log *zap.SugaredLogger, evt model.OutboxEvent) {
	var err error
	switch evt.EventType {
	case model.EventPush:
		var msgs []line.Message
		if err = json.Unmarshal([]byte(evt.Payload), &msgs); err == nil {
			err = session.Push(ctx, evt.NotifyUserID, msgs)
		}
	case model.EventLinkRichMenu:
		err = session.LinkRichMenu(ctx, evt.NotifyUserID)
	default:
		err = r.PublishEvent(ctx, evt)
		if err != nil {
			// broker delivery is retried on the next tick
			log.Errorf("publish id=%d: %v", evt.ID, err)
			return
		}
	}
	if err != nil {
		// notification delivery is at-most-once: log and move on, the
		// primary operation already succeeded
		log.Warnf("deliver %s id=%d: %v", evt.EventType, evt.ID, err)
	}
	if err := r.MarkOutboxProcessed(ctx, evt.ID); err != nil {
		log.Errorf("mark processed id=%d: %v", evt.ID, err)
	} else {
		log.Infof("event %d (%s) delivered", evt.ID, evt.EventType)
	}
}
