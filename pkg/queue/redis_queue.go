package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"heartsearch/pkg/domain"
)

// RedisHistoryQueue carries history entries over a Redis stream so any
// replica's consumer group can persist them. Each message is handled once
// and acknowledged whatever the outcome.
type RedisHistoryQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	block        time.Duration
	claimIdle    time.Duration
	handleTTL    time.Duration
	maxLen       int64
	readCount    int64
	claimCount   int64
	logger       *slog.Logger

	groupMu    sync.Mutex
	groupReady bool
}

type RedisQueueConfig struct {
	Client     *redis.Client
	Stream     string
	Group      string
	Consumer   string
	Block      time.Duration
	ClaimIdle  time.Duration
	HandleTTL  time.Duration
	MaxLen     int64
	ReadCount  int64
	ClaimCount int64
	Logger     *slog.Logger
}

func NewRedisHistoryQueue(cfg RedisQueueConfig) (*RedisHistoryQueue, error) {
	if cfg.Client == nil {
		return nil, errors.New("redis client required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		stream = "heart:history"
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "history-writers"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = defaultConsumer()
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	handleTTL := cfg.HandleTTL
	if handleTTL <= 0 {
		handleTTL = 5 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimCount := cfg.ClaimCount
	if claimCount <= 0 {
		claimCount = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisHistoryQueue{
		client:       cfg.Client,
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		block:        block,
		claimIdle:    claimIdle,
		handleTTL:    handleTTL,
		maxLen:       maxLen,
		readCount:    readCount,
		claimCount:   claimCount,
		logger:       logger,
	}, nil
}

// Enqueue appends entry to the stream.
func (q *RedisHistoryQueue) Enqueue(ctx context.Context, entry domain.SearchHistoryEntry) error {
	q.ensureGroup(ctx)
	return q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"id":         entry.ID,
			"account_id": entry.AccountID,
			"query":      entry.Query,
			"type":       string(entry.Type),
			"created_at": entry.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

// Run consumes with concurrency consumers until ctx is done.
func (q *RedisHistoryQueue) Run(ctx context.Context, concurrency int, handler Handler) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.ensureGroup(ctx)
	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.consumeLoop(ctx, consumer, handler)
		}()
	}
	wg.Wait()
	return nil
}

// ensureGroup creates the consumer group until one attempt succeeds.
func (q *RedisHistoryQueue) ensureGroup(ctx context.Context) {
	q.groupMu.Lock()
	defer q.groupMu.Unlock()
	if q.groupReady {
		return
	}
	// "0" so entries added before the group existed are still consumed.
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		q.logger.Warn("history_queue_group_create_failed", "stream", q.stream, "err", err)
		return
	}
	q.groupReady = true
}

// groupLost forgets the group so the next ensureGroup recreates it.
func (q *RedisHistoryQueue) groupLost() {
	q.groupMu.Lock()
	q.groupReady = false
	q.groupMu.Unlock()
}

func (q *RedisHistoryQueue) consumeLoop(ctx context.Context, consumer string, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Messages left pending by a consumer that died before handling them.
		if msgs, err := q.claimPending(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			if err != redis.Nil && ctx.Err() == nil {
				q.logger.Warn("history_queue_read_failed", "stream", q.stream, "err", err)
				if strings.HasPrefix(err.Error(), "NOGROUP") {
					q.groupLost()
					q.ensureGroup(ctx)
				}
				select {
				case <-ctx.Done():
				case <-time.After(time.Second):
				}
			}
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

func (q *RedisHistoryQueue) claimPending(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.claimCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (q *RedisHistoryQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler Handler) {
	defer q.ackAndDel(context.WithoutCancel(ctx), msg.ID)
	entry, ok := decodeEntry(msg.Values)
	if !ok {
		q.logger.Warn("history_queue_bad_message", "message_id", msg.ID)
		return
	}
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.handleTTL)
	defer cancel()
	if err := handler(hctx, entry); err != nil {
		q.logger.Error("history_write_failed", "account_id", entry.AccountID, "history_id", entry.ID, "err", err)
	}
}

func (q *RedisHistoryQueue) ackAndDel(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func decodeEntry(values map[string]any) (domain.SearchHistoryEntry, bool) {
	get := func(k string) string {
		v, _ := values[k].(string)
		return v
	}
	entry := domain.SearchHistoryEntry{
		ID:        get("id"),
		AccountID: get("account_id"),
		Query:     get("query"),
		Type:      domain.SearchType(get("type")),
	}
	if entry.ID == "" || entry.AccountID == "" || entry.Query == "" {
		return domain.SearchHistoryEntry{}, false
	}
	if _, ok := domain.ParseSearchType(string(entry.Type)); !ok || entry.Type == "" {
		return domain.SearchHistoryEntry{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, get("created_at")); err == nil {
		entry.CreatedAt = t
	} else {
		entry.CreatedAt = time.Now().UTC()
	}
	return entry, true
}

func defaultConsumer() string {
	host, _ := os.Hostname()
	if host == "" {
		host = "consumer"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
