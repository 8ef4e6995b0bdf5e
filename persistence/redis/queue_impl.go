package redis

import (
	"context"
	"errors"

	rd "github.com/go-redis/redis/v9"
	"github.com/prochestra/prochestra/logger"
	"github.com/prochestra/prochestra/persistence"
	"go.uber.org/zap"
)

const EVALUATION_QUEUE string = "evaluation-queue"

type redisEvaluationQueue struct {
	baseDao
}

var _ persistence.EvaluationQueue = new(redisEvaluationQueue)

func NewRedisEvaluationQueue(conf Config) *redisEvaluationQueue {
	return &redisEvaluationQueue{
		baseDao: *newBaseDao(conf),
	}
}

func (rq *redisEvaluationQueue) Push(executionId string) error {
	ctx := context.Background()
	queueName := rq.getNamespaceKey(EVALUATION_QUEUE)
	err := rq.redisClient.LPush(ctx, queueName, executionId).Err()
	if err != nil {
		logger.Error("error while push to redis list", zap.String("queue", queueName), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (rq *redisEvaluationQueue) Pop(batchSize int) ([]string, error) {
	ctx := context.Background()
	queueName := rq.getNamespaceKey(EVALUATION_QUEUE)
	res, err := rq.redisClient.LPopCount(ctx, queueName, batchSize).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return []string{}, nil
		}
		logger.Error("error while pop from redis list", zap.String("queue", queueName), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return res, nil
}
