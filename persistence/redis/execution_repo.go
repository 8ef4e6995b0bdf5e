package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	rd "github.com/go-redis/redis/v9"
	"github.com/prochestra/prochestra/logger"
	"github.com/prochestra/prochestra/model"
	"github.com/prochestra/prochestra/persistence"
	"github.com/prochestra/prochestra/util"
	"go.uber.org/zap"
)

const EXECUTION_KEY string = "EXECUTION"
const EXECUTION_INDEX_KEY string = "EXECUTIONS"
const STEP_KEY string = "STEPS"

// compareAndSetScript implements the repository's optimistic concurrency
// primitive. Status and the timestamps tied to it live in their own hash
// fields so the check-and-set never has to rewrite the record body.
// Returns -1 when the execution does not exist, 0 on a status mismatch,
// 1 on success.
var compareAndSetScript = rd.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then return -1 end
if cur ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'status', ARGV[2], 'updated_at', ARGV[3])
if ARGV[4] == '1' then
  redis.call('HSET', KEYS[1], 'completed_at', ARGV[3])
else
  redis.call('HDEL', KEYS[1], 'completed_at')
end
if ARGV[5] == '1' and redis.call('HEXISTS', KEYS[1], 'started_at') == 0 then
  redis.call('HSET', KEYS[1], 'started_at', ARGV[3])
end
return 1
`)

// claimStepScript moves a step execution row from pending to running.
// Exactly one dispatcher can win the claim; everyone else sees 0.
var claimStepScript = rd.NewScript(`
local raw = redis.call('HGET', KEYS[1], ARGV[1])
if not raw then return 0 end
local step = cjson.decode(raw)
if step['status'] ~= 'pending' then return 0 end
step['status'] = 'running'
step['startedAt'] = ARGV[2]
redis.call('HSET', KEYS[1], ARGV[1], cjson.encode(step))
return 1
`)

type redisExecutionRepository struct {
	baseDao
	execEncDec util.Codec[model.ProcessExecution]
	stepEncDec util.Codec[model.StepExecution]
}

var _ persistence.ExecutionRepository = new(redisExecutionRepository)

func NewRedisExecutionRepository(conf Config) *redisExecutionRepository {
	return &redisExecutionRepository{
		baseDao:    *newBaseDao(conf),
		execEncDec: util.NewJsonCodec[model.ProcessExecution](),
		stepEncDec: util.NewJsonCodec[model.StepExecution](),
	}
}

func (r *redisExecutionRepository) executionKey(id string) string {
	return r.getNamespaceKey(EXECUTION_KEY, id)
}

func (r *redisExecutionRepository) stepsKey(executionId string) string {
	return r.getNamespaceKey(STEP_KEY, executionId)
}

func (r *redisExecutionRepository) CreateExecution(execution *model.ProcessExecution) error {
	ctx := context.Background()
	data, err := r.execEncDec.Encode(*execution)
	if err != nil {
		return err
	}
	key := r.executionKey(execution.Id)
	created, err := r.redisClient.HSetNX(ctx, key, "data", data).Result()
	if err != nil {
		logger.Error("error in saving execution", zap.String("executionId", execution.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if !created {
		return persistence.StorageLayerError{Message: "execution already exists"}
	}
	score := float64(execution.CreatedAt.UnixMilli())
	pipe := r.redisClient.Pipeline()
	pipe.HSet(ctx, key, "status", string(execution.Status), "updated_at", formatTime(execution.UpdatedAt))
	pipe.ZAdd(ctx, r.getNamespaceKey(EXECUTION_INDEX_KEY), rd.Z{Score: score, Member: execution.Id})
	pipe.ZAdd(ctx, r.getNamespaceKey(EXECUTION_INDEX_KEY, execution.ProcessId), rd.Z{Score: score, Member: execution.Id})
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Error("error in indexing execution", zap.String("executionId", execution.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *redisExecutionRepository) GetExecution(id string) (*model.ProcessExecution, error) {
	ctx := context.Background()
	fields, err := r.redisClient.HGetAll(ctx, r.executionKey(id)).Result()
	if err != nil {
		logger.Error("error in getting execution", zap.String("executionId", id), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if len(fields) == 0 {
		return nil, persistence.NotFoundError{Kind: "execution", Key: id}
	}
	return r.decodeExecution(id, fields)
}

// decodeExecution overlays the authoritative status and timestamp fields on
// the record body.
func (r *redisExecutionRepository) decodeExecution(id string, fields map[string]string) (*model.ProcessExecution, error) {
	raw, ok := fields["data"]
	if !ok {
		return nil, persistence.StorageLayerError{Message: "execution record missing data field"}
	}
	execution, err := r.execEncDec.Decode([]byte(raw))
	if err != nil {
		return nil, err
	}
	status := model.ExecutionStatus(fields["status"])
	if !status.Valid() {
		return nil, persistence.StorageLayerError{Message: "corrupt execution status " + fields["status"]}
	}
	execution.Status = status
	execution.StartedAt = parseTimePtr(fields["started_at"])
	execution.CompletedAt = parseTimePtr(fields["completed_at"])
	if at := parseTimePtr(fields["updated_at"]); at != nil {
		execution.UpdatedAt = *at
	}
	return execution, nil
}

func (r *redisExecutionRepository) ListExecutions(filter persistence.ListFilter) ([]*model.ProcessExecution, int, error) {
	ctx := context.Background()
	indexKey := r.getNamespaceKey(EXECUTION_INDEX_KEY)
	if filter.ProcessId != "" {
		indexKey = r.getNamespaceKey(EXECUTION_INDEX_KEY, filter.ProcessId)
	}
	ids, err := r.redisClient.ZRevRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		logger.Error("error in listing executions", zap.Error(err))
		return nil, 0, persistence.StorageLayerError{Message: err.Error()}
	}
	matched := make([]*model.ProcessExecution, 0)
	for _, id := range ids {
		execution, err := r.GetExecution(id)
		if err != nil {
			if _, ok := err.(persistence.NotFoundError); ok {
				continue
			}
			return nil, 0, err
		}
		if filter.Matches(execution) {
			matched = append(matched, execution)
		}
	}
	total := len(matched)
	offset := filter.Offset
	if offset > total {
		offset = total
	}
	end := offset + filter.EffectiveLimit()
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (r *redisExecutionRepository) CompareAndSetStatus(id string, expected model.ExecutionStatus, next model.ExecutionStatus) (bool, error) {
	ctx := context.Background()
	terminal := "0"
	if next.Terminal() {
		terminal = "1"
	}
	running := "0"
	if next == model.EXECUTION_RUNNING {
		running = "1"
	}
	res, err := compareAndSetScript.Run(ctx, r.redisClient, []string{r.executionKey(id)},
		string(expected), string(next), formatTime(time.Now()), terminal, running).Int()
	if err != nil {
		logger.Error("error in compare and set status", zap.String("executionId", id), zap.Error(err))
		return false, persistence.StorageLayerError{Message: err.Error()}
	}
	if res == -1 {
		return false, persistence.NotFoundError{Kind: "execution", Key: id}
	}
	return res == 1, nil
}

func (r *redisExecutionRepository) SaveExecution(execution *model.ProcessExecution) error {
	ctx := context.Background()
	key := r.executionKey(execution.Id)
	exists, err := r.redisClient.Exists(ctx, key).Result()
	if err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if exists == 0 {
		return persistence.NotFoundError{Kind: "execution", Key: execution.Id}
	}
	data, err := r.execEncDec.Encode(*execution)
	if err != nil {
		return err
	}
	// Only the record body is written; status and its timestamps stay in
	// their own fields and take precedence on read.
	if err := r.redisClient.HSet(ctx, key, "data", data).Err(); err != nil {
		logger.Error("error in saving execution", zap.String("executionId", execution.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *redisExecutionRepository) UpsertStepExecution(step *model.StepExecution) error {
	ctx := context.Background()
	data, err := r.stepEncDec.Encode(*step)
	if err != nil {
		return err
	}
	if err := r.redisClient.HSet(ctx, r.stepsKey(step.ExecutionId), step.StepId, data).Err(); err != nil {
		logger.Error("error in saving step execution", zap.String("executionId", step.ExecutionId),
			zap.String("stepId", step.StepId), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (r *redisExecutionRepository) GetStepExecution(executionId string, stepId string) (*model.StepExecution, error) {
	ctx := context.Background()
	raw, err := r.redisClient.HGet(ctx, r.stepsKey(executionId), stepId).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: "step execution", Key: stepId}
		}
		logger.Error("error in getting step execution", zap.String("executionId", executionId),
			zap.String("stepId", stepId), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return r.stepEncDec.Decode([]byte(raw))
}

func (r *redisExecutionRepository) ListStepExecutions(executionId string) ([]*model.StepExecution, error) {
	ctx := context.Background()
	rows, err := r.redisClient.HGetAll(ctx, r.stepsKey(executionId)).Result()
	if err != nil {
		logger.Error("error in listing step executions", zap.String("executionId", executionId), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	out := make([]*model.StepExecution, 0, len(rows))
	for _, raw := range rows {
		step, err := r.stepEncDec.Decode([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, step)
	}
	return out, nil
}

func (r *redisExecutionRepository) ClaimStep(executionId string, stepId string) (bool, error) {
	ctx := context.Background()
	res, err := claimStepScript.Run(ctx, r.redisClient, []string{r.stepsKey(executionId)},
		stepId, time.Now().UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		logger.Error("error in claiming step", zap.String("executionId", executionId),
			zap.String("stepId", stepId), zap.Error(err))
		return false, persistence.StorageLayerError{Message: err.Error()}
	}
	return res == 1, nil
}

func formatTime(t time.Time) string {
	return strconv.FormatInt(t.UnixNano(), 10)
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	nanos, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	t := time.Unix(0, nanos)
	return &t
}
