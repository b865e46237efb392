package queue

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bookswap/internal/util"
)

// ReconcileQueue carries ids of exchanges that reached a terminal status and
// still need history propagation. Backed by a Redis Stream with a consumer
// group so delivery survives restarts and concurrent workers.
type ReconcileQueue struct {
	client     *redis.Client
	stream     string
	group      string
	consumer   string
	maxRetries int
	block      time.Duration
	claimIdle  time.Duration
	retryDelay time.Duration
	maxLen     int64
	readCount  int64
	once       sync.Once
}

type Config struct {
	Addr       string
	Password   string
	Stream     string
	Group      string
	Consumer   string
	MaxRetries int
	Block      time.Duration
	ClaimIdle  time.Duration
	RetryDelay time.Duration
	MaxLen     int64
	ReadCount  int64
}

// NewReconcileQueue connects to Redis and prepares a stream-backed queue.
func NewReconcileQueue(cfg Config) (*ReconcileQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "bookswap:history:reconcile"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "history-workers"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = util.NewID()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	retryDelay := cfg.RetryDelay
	if retryDelay < 0 {
		retryDelay = 0
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}

	return &ReconcileQueue{
		client:     redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:     stream,
		group:      group,
		consumer:   consumer,
		maxRetries: maxRetries,
		block:      block,
		claimIdle:  claimIdle,
		retryDelay: retryDelay,
		maxLen:     maxLen,
		readCount:  readCount,
	}, nil
}

// Enqueue publishes an exchange id for reconciliation.
func (q *ReconcileQueue) Enqueue(ctx context.Context, exchangeID string) error {
	exchangeID = strings.TrimSpace(exchangeID)
	if exchangeID == "" {
		return errors.New("exchange id required")
	}
	return q.add(ctx, exchangeID, 0)
}

func (q *ReconcileQueue) add(ctx context.Context, exchangeID string, attempts int) error {
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"exchange_id": exchangeID,
			"attempts":    strconv.Itoa(attempts),
		},
	}).Err()
}

// Run consumes the stream until ctx is cancelled, invoking handler once per
// delivery. Failed deliveries are re-added with an incremented attempt count
// and dropped after the retry budget is spent. Handlers must be idempotent.
func (q *ReconcileQueue) Run(ctx context.Context, handler func(context.Context, string) error) error {
	q.ensureGroup(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if msgs, err := q.claimStale(ctx); err == nil {
			for _, msg := range msgs {
				q.handle(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(q.block):
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handle(ctx, msg, handler)
			}
		}
	}
}

func (q *ReconcileQueue) ensureGroup(ctx context.Context) {
	q.once.Do(func() {
		err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			slog.Warn("create consumer group", "stream", q.stream, "err", err)
		}
	})
}

func (q *ReconcileQueue) claimStale(ctx context.Context) ([]redis.XMessage, error) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.readCount,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return msgs, err
}

func (q *ReconcileQueue) handle(ctx context.Context, msg redis.XMessage, handler func(context.Context, string) error) {
	exchangeID, _ := msg.Values["exchange_id"].(string)
	if exchangeID == "" {
		q.ackAndDel(ctx, msg.ID)
		return
	}
	attempts := 0
	if raw, ok := msg.Values["attempts"].(string); ok {
		attempts, _ = strconv.Atoi(raw)
	}

	err := handler(ctx, exchangeID)
	if err == nil {
		q.ackAndDel(ctx, msg.ID)
		return
	}

	if attempts+1 >= q.maxRetries {
		slog.Error("reconcile job dropped after retries",
			"exchange_id", exchangeID, "attempts", attempts+1, "err", err)
		q.ackAndDel(ctx, msg.ID)
		return
	}

	slog.Warn("reconcile job failed, requeueing",
		"exchange_id", exchangeID, "attempts", attempts+1, "err", err)
	if q.retryDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(q.retryDelay):
		}
	}
	pipe := q.client.TxPipeline()
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"exchange_id": exchangeID,
			"attempts":    strconv.Itoa(attempts + 1),
		},
	})
	pipe.XAck(ctx, q.stream, q.group, msg.ID)
	pipe.XDel(ctx, q.stream, msg.ID)
	_, _ = pipe.Exec(ctx)
}

func (q *ReconcileQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}
