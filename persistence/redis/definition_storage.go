package redis

import (
	"context"
	"errors"
	"strconv"

	rd "github.com/go-redis/redis/v9"
	"github.com/prochestra/prochestra/logger"
	"github.com/prochestra/prochestra/model"
	"github.com/prochestra/prochestra/persistence"
	"github.com/prochestra/prochestra/util"
	"go.uber.org/zap"
)

const DEFINITION_KEY string = "DEFINITION"

type redisDefinitionStorage struct {
	baseDao
	defEncDec util.Codec[model.ProcessDefinition]
}

var _ persistence.DefinitionStorage = new(redisDefinitionStorage)

func NewRedisDefinitionStorage(conf Config) *redisDefinitionStorage {
	return &redisDefinitionStorage{
		baseDao:   *newBaseDao(conf),
		defEncDec: util.NewJsonCodec[model.ProcessDefinition](),
	}
}

func (s *redisDefinitionStorage) Save(def *model.ProcessDefinition) error {
	ctx := context.Background()
	data, err := s.defEncDec.Encode(*def)
	if err != nil {
		return err
	}
	key := s.getNamespaceKey(DEFINITION_KEY, def.Id, strconv.Itoa(def.Version))
	created, err := s.redisClient.SetNX(ctx, key, data, 0).Result()
	if err != nil {
		logger.Error("error in saving definition", zap.String("processId", def.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	if !created {
		return persistence.StorageLayerError{Message: "definition version already exists"}
	}
	latestKey := s.getNamespaceKey(DEFINITION_KEY, def.Id, "LATEST")
	if err := s.redisClient.Set(ctx, latestKey, def.Version, 0).Err(); err != nil {
		logger.Error("error in saving latest definition pointer", zap.String("processId", def.Id), zap.Error(err))
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (s *redisDefinitionStorage) Get(id string, version int) (*model.ProcessDefinition, error) {
	ctx := context.Background()
	key := s.getNamespaceKey(DEFINITION_KEY, id, strconv.Itoa(version))
	raw, err := s.redisClient.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: "definition", Key: id}
		}
		logger.Error("error in getting definition", zap.String("processId", id), zap.Error(err))
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.defEncDec.Decode([]byte(raw))
}

func (s *redisDefinitionStorage) GetLatest(id string) (*model.ProcessDefinition, error) {
	ctx := context.Background()
	latestKey := s.getNamespaceKey(DEFINITION_KEY, id, "LATEST")
	raw, err := s.redisClient.Get(ctx, latestKey).Result()
	if err != nil {
		if errors.Is(err, rd.Nil) {
			return nil, persistence.NotFoundError{Kind: "definition", Key: id}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: "corrupt latest definition pointer"}
	}
	return s.Get(id, version)
}

func (s *redisDefinitionStorage) NextVersion(id string) (int, error) {
	ctx := context.Background()
	key := s.getNamespaceKey(DEFINITION_KEY, id, "VERSION")
	version, err := s.redisClient.Incr(ctx, key).Result()
	if err != nil {
		return 0, persistence.StorageLayerError{Message: err.Error()}
	}
	return int(version), nil
}
