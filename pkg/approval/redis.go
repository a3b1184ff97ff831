package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/responder/pkg/models"
	redis "github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix     = "responder:approval:"
	redisIndexKey      = "responder:approvals"
	maxTransitionTries = 10
)

// RedisStore keeps each request as a JSON string and indexes ids in a sorted set scored by
// creation time. Transitions run in a WATCH/MULTI optimistic transaction.
type RedisStore struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisStore connects to a redis:// URL and pings the server.
func NewRedisStore(ctx context.Context, url string, logger *slog.Logger) (*RedisStore, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger = logger.With("module", "approval_redis_store")
	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewRedisStoreWithClient(client, logger), nil
}

func NewRedisStoreWithClient(client redis.UniversalClient, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

// stringGetter is satisfied by both the client and a watched transaction.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func requestKey(id string) string {
	return redisKeyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context, req *models.ApprovalRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode approval request: %w", err)
	}

	created, err := s.client.SetNX(ctx, requestKey(req.ID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store approval request: %w", err)
	}

	if !created {
		return fmt.Errorf("%w: %s", ErrDuplicateID, req.ID)
	}

	err = s.client.ZAdd(ctx, redisIndexKey, redis.Z{
		Score:  float64(req.CreatedAt.UnixNano()),
		Member: req.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to index approval request: %w", err)
	}

	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	return s.get(ctx, s.client, id)
}

func (s *RedisStore) get(ctx context.Context, cmd stringGetter, id string) (*models.ApprovalRequest, error) {
	payload, err := cmd.Get(ctx, requestKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrApprovalNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to load approval request: %w", err)
	}

	var req models.ApprovalRequest

	err = json.Unmarshal(payload, &req)
	if err != nil {
		return nil, fmt.Errorf("failed to decode approval request %s: %w", id, err)
	}

	return &req, nil
}

func (s *RedisStore) Transition(
	ctx context.Context,
	id string,
	to models.ApprovalStatus,
	by string,
	at time.Time,
) (*models.ApprovalRequest, error) {
	key := requestKey(id)

	var result *models.ApprovalRequest

	txf := func(tx *redis.Tx) error {
		req, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}

		result = req

		err = applyTransition(req, to, by, at)
		if err != nil {
			return err
		}

		payload, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("failed to encode approval request: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, 0)

			return nil
		})

		return err
	}

	for range maxTransitionTries {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.DebugContext(ctx, "Approval transition raced, retrying", "approval_id", id)

			continue
		}

		return result, err
	}

	return nil, fmt.Errorf("approval %s: too many concurrent transitions", id)
}

func (s *RedisStore) List(ctx context.Context, status models.ApprovalStatus) ([]*models.ApprovalRequest, error) {
	ids, err := s.client.ZRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list approval requests: %w", err)
	}

	out := make([]*models.ApprovalRequest, 0, len(ids))

	for _, id := range ids {
		req, err := s.Get(ctx, id)
		if errors.Is(err, ErrApprovalNotFound) {
			continue
		}

		if err != nil {
			return nil, err
		}

		if status == "" || req.Status == status {
			out = append(out, req)
		}
	}

	return out, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
