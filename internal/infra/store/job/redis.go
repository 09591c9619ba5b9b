package jobstore

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/subszero0/meme-maker/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis keeps one hash per job plus a ready list (claim order), an active
// set (capacity ceiling), and a by-created zset (sweeps). The two
// safety-critical sections, admission and claim, run as Lua scripts so they
// are atomic server-side.
type Redis struct {
	rdb     redis.Cmdable
	ceiling int
}

func NewRedis(rdb redis.Cmdable, ceiling int) *Redis {
	return &Redis{rdb: rdb, ceiling: ceiling}
}

var createScript = redis.NewScript(`
if redis.call('SCARD', KEYS[1]) >= tonumber(ARGV[1]) then
    return 0
end
local id = ARGV[2]
for i = 4, #ARGV, 2 do
    redis.call('HSET', 'job:' .. id, ARGV[i], ARGV[i+1])
end
redis.call('LPUSH', KEYS[2], id)
redis.call('SADD', KEYS[1], id)
redis.call('ZADD', KEYS[3], tonumber(ARGV[3]), id)
return 1
`)

var claimScript = redis.NewScript(`
while true do
    local id = redis.call('RPOP', KEYS[1])
    if not id then
        return false
    end
    if redis.call('HGET', 'job:' .. id, 'status') == 'queued' then
        redis.call('HSET', 'job:' .. id, 'status', 'working', 'updated_at', ARGV[1])
        return id
    end
end
`)

var progressScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'working' then
    return redis.call('HGET', KEYS[1], 'status') or ''
end
local cur = tonumber(redis.call('HGET', KEYS[1], 'progress') or '0')
local new = tonumber(ARGV[1])
if new > cur then
    redis.call('HSET', KEYS[1], 'progress', new)
end
redis.call('HSET', KEYS[1], 'stage', ARGV[2], 'updated_at', ARGV[3])
return 'working'
`)

var completeScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'working' then
    return redis.call('HGET', KEYS[1], 'status') or ''
end
redis.call('HSET', KEYS[1],
    'status', 'done', 'progress', 100, 'stage', '',
    'artifact_key', ARGV[1], 'updated_at', ARGV[2])
redis.call('SREM', KEYS[2], ARGV[3])
return 'working'
`)

var failScript = redis.NewScript(`
local s = redis.call('HGET', KEYS[1], 'status')
if s == 'done' or s == 'error' or not s then
    return s or ''
end
redis.call('HSET', KEYS[1],
    'status', 'error', 'stage', '',
    'error_code', ARGV[1], 'error_message', ARGV[2], 'updated_at', ARGV[3])
redis.call('SREM', KEYS[2], ARGV[4])
redis.call('LREM', KEYS[3], 0, ARGV[4])
return s
`)

func (s *Redis) Create(ctx context.Context, p domain.CreateJobParams) (domain.Job, error) {
	now := time.Now()
	j := domain.Job{
		ID:              uuid.NewString(),
		Status:          domain.StatusQueued,
		SourceURL:       p.SourceURL,
		TrimStart:       p.TrimStart,
		TrimEnd:         p.TrimEnd,
		RequestedFormat: p.RequestedFormat,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	args := []interface{}{
		s.ceiling, j.ID, now.Unix(),
		"id", j.ID,
		"status", string(j.Status),
		"source_url", j.SourceURL,
		"trim_start", j.TrimStart,
		"trim_end", j.TrimEnd,
		"requested_format", j.RequestedFormat,
		"progress", 0,
		"stage", "",
		"artifact_key", "",
		"error_code", "",
		"error_message", "",
		"created_at", now.UnixNano(),
		"updated_at", now.UnixNano(),
	}
	admitted, err := createScript.Run(ctx, s.rdb,
		[]string{activeKey(), readyKey(), byCreatedKey()}, args...).Int()
	if err != nil {
		return domain.Job{}, fmt.Errorf("redis create job: %w", err)
	}
	if admitted == 0 {
		return domain.Job{}, domain.ErrQueueFull
	}
	return j, nil
}

func (s *Redis) Claim(ctx context.Context) (*domain.Job, error) {
	id, err := claimScript.Run(ctx, s.rdb, []string{readyKey()}, time.Now().UnixNano()).Text()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis claim: %w", err)
	}

	j, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Redis) UpdateProgress(ctx context.Context, id string, progress int, stage string) error {
	prev, err := progressScript.Run(ctx, s.rdb, []string{jobKey(id)},
		progress, stage, time.Now().UnixNano()).Text()
	if err != nil {
		return fmt.Errorf("redis update progress: %w", err)
	}
	return transitionResult(prev, "progress")
}

func (s *Redis) Complete(ctx context.Context, id, artifactKey string) error {
	prev, err := completeScript.Run(ctx, s.rdb, []string{jobKey(id), activeKey()},
		artifactKey, time.Now().UnixNano(), id).Text()
	if err != nil {
		return fmt.Errorf("redis complete: %w", err)
	}
	return transitionResult(prev, "complete")
}

func (s *Redis) Fail(ctx context.Context, id string, code domain.ErrorCode, message string) error {
	prev, err := failScript.Run(ctx, s.rdb, []string{jobKey(id), activeKey(), readyKey()},
		string(code), message, time.Now().UnixNano(), id).Text()
	if err != nil {
		return fmt.Errorf("redis fail: %w", err)
	}
	if prev == string(domain.StatusDone) || prev == string(domain.StatusError) {
		return fmt.Errorf("fail from %s: %w", prev, domain.ErrInvalidTransition)
	}
	if prev == "" {
		return domain.ErrJobNotFound
	}
	return nil
}

// transitionResult maps the previous status reported by a CAS script to the
// store error contract: empty means the hash was missing, anything other
// than working is an illegal edge.
func transitionResult(prev, op string) error {
	switch prev {
	case string(domain.StatusWorking):
		return nil
	case "":
		return domain.ErrJobNotFound
	default:
		return fmt.Errorf("%s from %s: %w", op, prev, domain.ErrInvalidTransition)
	}
}

func (s *Redis) Get(ctx context.Context, id string) (domain.Job, error) {
	res, err := s.rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return domain.Job{}, fmt.Errorf("redis get job: %w", err)
	}
	if len(res) == 0 {
		return domain.Job{}, domain.ErrJobNotFound
	}

	j := domain.Job{
		ID:              id,
		Status:          domain.JobStatus(res["status"]),
		SourceURL:       res["source_url"],
		RequestedFormat: res["requested_format"],
		Stage:           res["stage"],
		ArtifactKey:     res["artifact_key"],
		ErrorCode:       domain.ErrorCode(res["error_code"]),
		ErrorMessage:    res["error_message"],
	}
	if v, err := strconv.ParseFloat(res["trim_start"], 64); err == nil {
		j.TrimStart = v
	}
	if v, err := strconv.ParseFloat(res["trim_end"], 64); err == nil {
		j.TrimEnd = v
	}
	if v, err := strconv.Atoi(res["progress"]); err == nil {
		j.Progress = v
	}
	if v, err := strconv.ParseInt(res["created_at"], 10, 64); err == nil {
		j.CreatedAt = time.Unix(0, v)
	}
	if v, err := strconv.ParseInt(res["updated_at"], 10, 64); err == nil {
		j.UpdatedAt = time.Unix(0, v)
	}
	return j, nil
}

func (s *Redis) Delete(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, jobKey(id))
	pipe.SRem(ctx, activeKey(), id)
	pipe.ZRem(ctx, byCreatedKey(), id)
	pipe.LRem(ctx, readyKey(), 0, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete job: %w", err)
	}
	return nil
}

func (s *Redis) CountActive(ctx context.Context) (int, error) {
	n, err := s.rdb.SCard(ctx, activeKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redis count active: %w", err)
	}
	return int(n), nil
}

func (s *Redis) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	counts := make(map[domain.JobStatus]int)
	err := s.scan(ctx, time.Now(), func(j domain.Job) {
		counts[j.Status]++
	})
	return counts, err
}

func (s *Redis) StaleWorking(ctx context.Context, cutoff time.Time) ([]domain.Job, error) {
	var out []domain.Job
	err := s.scan(ctx, time.Now(), func(j domain.Job) {
		if j.Status == domain.StatusWorking && j.UpdatedAt.Before(cutoff) {
			out = append(out, j)
		}
	})
	return out, err
}

func (s *Redis) TerminalBefore(ctx context.Context, cutoff time.Time) ([]domain.Job, error) {
	var out []domain.Job
	err := s.scan(ctx, cutoff, func(j domain.Job) {
		if j.Status.Terminal() && j.UpdatedAt.Before(cutoff) {
			out = append(out, j)
		}
	})
	return out, err
}

func (s *Redis) QueuedBefore(ctx context.Context, cutoff time.Time) ([]domain.Job, error) {
	var out []domain.Job
	err := s.scan(ctx, cutoff, func(j domain.Job) {
		if j.Status == domain.StatusQueued && j.CreatedAt.Before(cutoff) {
			out = append(out, j)
		}
	})
	return out, err
}

// scan walks jobs created before max in creation order. Entries whose hash
// vanished mid-walk are dropped from the index rather than reported.
func (s *Redis) scan(ctx context.Context, max time.Time, visit func(domain.Job)) error {
	ids, err := s.rdb.ZRangeByScore(ctx, byCreatedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprint(max.Unix()),
	}).Result()
	if err != nil {
		return fmt.Errorf("redis scan jobs: %w", err)
	}

	for _, id := range ids {
		j, err := s.Get(ctx, id)
		if err == domain.ErrJobNotFound {
			if err := s.rdb.ZRem(ctx, byCreatedKey(), id).Err(); err != nil {
				slog.Warn("redis scan: drop dangling index entry",
					slog.String("job_id", id),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		if err != nil {
			return err
		}
		visit(j)
	}
	return nil
}

// Enqueue re-dispatches an already persisted queued job; the janitor uses
// it for jobs whose wake-up was lost.
func (s *Redis) Enqueue(ctx context.Context, id string) error {
	return s.rdb.LPush(ctx, readyKey(), id).Err()
}

func jobKey(id string) string { return "job:" + id }
func readyKey() string        { return "jobs:ready" }
func activeKey() string       { return "jobs:active" }
func byCreatedKey() string    { return "jobs:by_created" }
