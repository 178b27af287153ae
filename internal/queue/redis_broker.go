package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	appErrors "github.com/unclebandit/gymcall-scheduler/internal/errors"
)

// Keys are prefixed with "gymcall:" to avoid collisions.
const keyPrefix = "gymcall:"

// jobKey returns the Hash key of a job: gymcall:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// revokedKey marks a revoked job id: gymcall:revoked:{id}
func revokedKey(id string) string { return keyPrefix + "revoked:" + id }

const (
	scheduledKey = keyPrefix + "scheduled" // Sorted Set scored by run_at ms
	reservedKey  = keyPrefix + "reserved"  // Set
	activeKey    = keyPrefix + "active"    // Set
)

// revokedTTL keeps revocation marks around long enough for any worker
// still holding the job to see them.
const revokedTTL = 24 * time.Hour

// RedisBroker is a WorkerBroker over Redis. Each job is a Hash; its state
// is tracked by membership in the scheduled/reserved/active key.
type RedisBroker struct {
	client goredis.UniversalClient
}

func NewRedisBroker(client goredis.UniversalClient) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Enqueue(ctx context.Context, job *Job) (JobHandle, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return JobHandle{}, fmt.Errorf("queue/redis: encode job: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, jobKey(job.ID), "data", data, "state", string(StateScheduled), "worker_id", "")
	pipe.ZAdd(ctx, scheduledKey, goredis.Z{Score: score(job.RunAt), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return JobHandle{}, fmt.Errorf("queue/redis: enqueue job: %w", err)
	}
	return JobHandle{JobID: job.ID, RunAt: job.RunAt}, nil
}

func (b *RedisBroker) InspectScheduled(ctx context.Context) ([]JobDescriptor, error) {
	ids, err := b.client.ZRange(ctx, scheduledKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue/redis: inspect scheduled: %w", err)
	}
	return b.describe(ctx, ids)
}

func (b *RedisBroker) InspectReserved(ctx context.Context) ([]JobDescriptor, error) {
	ids, err := b.client.SMembers(ctx, reservedKey).Result()
	if err != nil {
		return nil, fmt.Errorf("queue/redis: inspect reserved: %w", err)
	}
	return b.describe(ctx, ids)
}

func (b *RedisBroker) InspectActive(ctx context.Context) ([]JobDescriptor, error) {
	ids, err := b.client.SMembers(ctx, activeKey).Result()
	if err != nil {
		return nil, fmt.Errorf("queue/redis: inspect active: %w", err)
	}
	return b.describe(ctx, ids)
}

func (b *RedisBroker) describe(ctx context.Context, ids []string) ([]JobDescriptor, error) {
	out := make([]JobDescriptor, 0, len(ids))
	for _, id := range ids {
		d, err := b.load(ctx, id)
		if errors.Is(err, appErrors.ErrJobNotFound) {
			continue // finished between listing and loading
		}
		if errors.Is(err, errUndecodable) {
			if err := b.discard(ctx, id); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunAt.Before(out[j].RunAt) })
	return out, nil
}

// errUndecodable marks a job hash whose data field is missing or corrupt.
var errUndecodable = errors.New("undecodable job")

func (b *RedisBroker) load(ctx context.Context, id string) (*JobDescriptor, error) {
	fields, err := b.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("queue/redis: load job: %w", err)
	}
	if len(fields) == 0 {
		return nil, appErrors.ErrJobNotFound
	}

	var d JobDescriptor
	if err := json.Unmarshal([]byte(fields["data"]), &d.Job); err != nil {
		return nil, fmt.Errorf("queue/redis: decode job %s: %w: %w", id, errUndecodable, err)
	}
	d.State = JobState(fields["state"])
	d.WorkerID = fields["worker_id"]
	return &d, nil
}

// discard drops every trace of a job that can no longer be decoded.
func (b *RedisBroker) discard(ctx context.Context, id string) error {
	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, scheduledKey, id)
	pipe.SRem(ctx, reservedKey, id)
	pipe.SRem(ctx, activeKey, id)
	pipe.Del(ctx, jobKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue/redis: discard job %s: %w", id, err)
	}
	return nil
}

// revokeScript marks the job revoked and drops it unless a worker is
// running it. Returns -1 for an unknown job, 0 for an active one.
var revokeScript = goredis.NewScript(`
redis.call("SET", KEYS[2], "1", "PX", ARGV[2])
local state = redis.call("HGET", KEYS[1], "state")
if not state then
	return -1
end
if state == "active" then
	return 0
end
redis.call("ZREM", KEYS[3], ARGV[1])
redis.call("SREM", KEYS[4], ARGV[1])
redis.call("DEL", KEYS[1])
return 1`)

func (b *RedisBroker) Revoke(ctx context.Context, jobID string, terminate bool) error {
	keys := []string{jobKey(jobID), revokedKey(jobID), scheduledKey, reservedKey}
	n, err := revokeScript.Run(ctx, b.client, keys, jobID, revokedTTL.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("queue/redis: revoke job: %w", err)
	}
	// The worker running an active job acks it once it sees the mark.
	if n < 0 {
		return appErrors.ErrJobNotFound
	}
	return nil
}

// claimScript moves one job from scheduled to reserved and returns its
// data, or nil when another worker or a revocation got there first.
var claimScript = goredis.NewScript(`
if redis.call("ZREM", KEYS[1], ARGV[1]) == 0 then
	return false
end
if redis.call("EXISTS", KEYS[3]) == 0 then
	return false
end
redis.call("SADD", KEYS[2], ARGV[1])
redis.call("HSET", KEYS[3], "state", "reserved", "worker_id", ARGV[2])
return redis.call("HGET", KEYS[3], "data")`)

// Reserve claims due jobs. Each claim is one script run, so a concurrent
// Revoke either sees the job scheduled and removes it, or sees it reserved.
func (b *RedisBroker) Reserve(ctx context.Context, workerID string, now time.Time, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 1
	}
	ids, err := b.client.ZRangeByScore(ctx, scheduledKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("queue/redis: reserve scan: %w", err)
	}

	var jobs []*Job
	for _, id := range ids {
		data, err := claimScript.Run(ctx, b.client, []string{scheduledKey, reservedKey, jobKey(id)}, id, workerID).Text()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return jobs, fmt.Errorf("queue/redis: reserve claim: %w", err)
		}

		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			if err := b.discard(ctx, id); err != nil {
				return jobs, err
			}
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// startScript marks a reserved job active, unless it was revoked away.
var startScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return 0
end
redis.call("SREM", KEYS[2], ARGV[1])
redis.call("SADD", KEYS[3], ARGV[1])
redis.call("HSET", KEYS[1], "state", "active", "worker_id", ARGV[2])
return 1`)

func (b *RedisBroker) Start(ctx context.Context, jobID, workerID string) error {
	n, err := startScript.Run(ctx, b.client, []string{jobKey(jobID), reservedKey, activeKey}, jobID, workerID).Int()
	if err != nil {
		return fmt.Errorf("queue/redis: start job: %w", err)
	}
	if n == 0 {
		return appErrors.ErrJobNotFound
	}
	return nil
}

func (b *RedisBroker) Ack(ctx context.Context, jobID string) error {
	pipe := b.client.TxPipeline()
	pipe.SRem(ctx, activeKey, jobID)
	pipe.SRem(ctx, reservedKey, jobID)
	pipe.Del(ctx, jobKey(jobID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue/redis: ack job: %w", err)
	}
	return nil
}

func (b *RedisBroker) Retry(ctx context.Context, job *Job, runAt time.Time) error {
	j := *job
	j.RunAt = runAt
	data, err := json.Marshal(&j)
	if err != nil {
		return fmt.Errorf("queue/redis: encode job: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.SRem(ctx, activeKey, j.ID)
	pipe.SRem(ctx, reservedKey, j.ID)
	pipe.HSet(ctx, jobKey(j.ID), "data", data, "state", string(StateScheduled), "worker_id", "")
	pipe.ZAdd(ctx, scheduledKey, goredis.Z{Score: score(runAt), Member: j.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue/redis: retry job: %w", err)
	}
	return nil
}

func (b *RedisBroker) Revoked(ctx context.Context, jobID string) (bool, error) {
	n, err := b.client.Exists(ctx, revokedKey(jobID)).Result()
	if err != nil {
		return false, fmt.Errorf("queue/redis: revoked check: %w", err)
	}
	return n > 0, nil
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

var _ WorkerBroker = (*RedisBroker)(nil)
