package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/casebridge/pkg/models"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "casebridge:"
	// maxTxRetries bounds the optimistic WATCH loop on a contended key.
	maxTxRetries = 16
)

// RedisStore keeps jobs as JSON records in Redis. Every write to a job key
// runs in a WATCH/MULTI transaction on that key only.
//
// Key layout:
//
//	casebridge:job:{id}          job record (JSON, includes payload)
//	casebridge:jobid:{id}        id claim, never expires
//	casebridge:jobs:{status}     set of ids in a non-terminal status
//	casebridge:jobs:finished     sorted set of terminal ids scored by completion time
type RedisStore struct {
	rdb *redis.Client
}

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type redisRecord struct {
	models.Job
	Payload     models.Payload `json:"payload"`
	HeartbeatAt *time.Time     `json:"heartbeat_at,omitempty"`
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Create(ctx context.Context, id string, payload models.Payload) (*models.Job, error) {
	if id == "" {
		id = NewID()
	}

	job := newJob(id, payload.Clone(), time.Now().UTC())
	data, err := encodeRecord(job)
	if err != nil {
		return nil, err
	}

	claim := claimKey(id)
	var execErr error
	txf := func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, claim).Result()
		if err != nil {
			return fmt.Errorf("claim job id: %w", err)
		}
		if n > 0 {
			return ErrDuplicateID
		}
		_, execErr = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, claim, job.CreatedAt.Unix(), 0)
			pipe.Set(ctx, jobKey(id), data, 0)
			pipe.SAdd(ctx, statusKey(models.JobStatusPending), id)
			return nil
		})
		return execErr
	}

	err = s.rdb.Watch(ctx, txf, claim)
	switch {
	case err == nil:
		return job.Clone(), nil
	case errors.Is(err, ErrDuplicateID), errors.Is(err, redis.TxFailedErr):
		// TxFailedErr: another Create claimed the id after our EXISTS.
		return nil, ErrDuplicateID
	}
	if execErr != nil {
		// EXEC does not roll back, so drop whatever part of the create landed.
		s.release(ctx, id)
	}
	return nil, fmt.Errorf("create job: %w", err)
}

// release removes the claim and record of a job whose create failed.
func (s *RedisStore) release(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, claimKey(id), jobKey(id))
		pipe.SRem(ctx, statusKey(models.JobStatusPending), id)
		return nil
	})
	if err != nil {
		slog.Error("releasing job id after failed create", "job_id", id, "error", err)
	}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Job, error) {
	return s.load(ctx, s.rdb, id)
}

func (s *RedisStore) Update(ctx context.Context, id string, status models.Status, opts ...UpdateOption) error {
	params := collectParams(opts)

	return s.mutate(ctx, id, func(job *models.Job) (func(redis.Pipeliner), error) {
		if err := checkUpdate(job, status, params); err != nil {
			return nil, err
		}
		prev := job.Status
		applyUpdate(job, status, params, time.Now().UTC())

		return func(pipe redis.Pipeliner) {
			pipe.SRem(ctx, statusKey(prev), id)
			if status.IsTerminal() {
				pipe.ZAdd(ctx, finishedKey(), redis.Z{
					Score:  float64(job.CompletedAt.UnixNano()),
					Member: id,
				})
			} else {
				pipe.SAdd(ctx, statusKey(status), id)
			}
		}, nil
	})
}

func (s *RedisStore) Heartbeat(ctx context.Context, id string) error {
	return s.mutate(ctx, id, func(job *models.Job) (func(redis.Pipeliner), error) {
		if job.Status != models.JobStatusProcessing {
			return nil, heartbeatError(job)
		}
		now := time.Now().UTC()
		job.HeartbeatAt = &now
		return nil, nil
	})
}

func (s *RedisStore) ListByStatus(ctx context.Context, status models.Status, activeBefore time.Time) ([]*models.Job, error) {
	if status.IsTerminal() {
		return nil, fmt.Errorf("list by status: %s jobs are not indexed", status)
	}

	ids, err := s.rdb.SMembers(ctx, statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("list %s jobs: %w", status, err)
	}

	var jobs []*models.Job
	for _, id := range ids {
		job, err := s.load(ctx, s.rdb, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		// The index is updated in the same transaction as the record, but a
		// concurrent transition may land between SMEMBERS and GET.
		if job.Status == status && activeBeforeMatch(job, activeBefore) {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (s *RedisStore) Evict(ctx context.Context, finishedBefore time.Time) (int, error) {
	upper := fmt.Sprintf("(%d", finishedBefore.UnixNano())
	ids, err := s.rdb.ZRangeByScore(ctx, finishedKey(), &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("list finished jobs: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
		members[i] = id
	}

	var removed *redis.IntCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.Del(ctx, keys...)
		pipe.ZRem(ctx, finishedKey(), members...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("evict jobs: %w", err)
	}
	return int(removed.Val()), nil
}

// mutate loads the job under WATCH, lets fn change it, and writes the record
// back together with any index commands fn returns.
func (s *RedisStore) mutate(ctx context.Context, id string, fn func(*models.Job) (func(redis.Pipeliner), error)) error {
	key := jobKey(id)

	txf := func(tx *redis.Tx) error {
		job, err := s.load(ctx, tx, id)
		if err != nil {
			return err
		}
		extra, err := fn(job)
		if err != nil {
			return err
		}
		data, err := encodeRecord(job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if extra != nil {
				extra(pipe)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update job %s: too much contention", id)
}

func (s *RedisStore) load(ctx context.Context, c getter, id string) (*models.Job, error) {
	data, err := c.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return decodeRecord(data)
}

func encodeRecord(job *models.Job) ([]byte, error) {
	data, err := json.Marshal(redisRecord{Job: *job, Payload: job.Payload, HeartbeatAt: job.HeartbeatAt})
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*models.Job, error) {
	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	job := rec.Job
	job.Payload = rec.Payload
	job.HeartbeatAt = rec.HeartbeatAt
	return &job, nil
}

func jobKey(id string) string {
	return redisKeyPrefix + "job:" + id
}

func claimKey(id string) string {
	return redisKeyPrefix + "jobid:" + id
}

func statusKey(status models.Status) string {
	return redisKeyPrefix + "jobs:" + string(status)
}

func finishedKey() string {
	return redisKeyPrefix + "jobs:finished"
}
