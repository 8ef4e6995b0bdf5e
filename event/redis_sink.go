package event

import (
	"context"
	"fmt"

	rd "github.com/go-redis/redis/v9"
	"github.com/prochestra/prochestra/util"
)

const AUDIT_STREAM string = "AUDIT"

// RedisStreamSink appends audit events to a capped redis stream so external
// consumers can tail the lifecycle of executions.
type RedisStreamSink struct {
	redisClient rd.UniversalClient
	streamKey   string
	maxLen      int64
	encDec      util.Codec[Event]
}

var _ Sink = new(RedisStreamSink)

func NewRedisStreamSink(addrs []string, namespace string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{
		redisClient: rd.NewUniversalClient(&rd.UniversalOptions{Addrs: addrs}),
		streamKey:   fmt.Sprintf("%s:%s", namespace, AUDIT_STREAM),
		maxLen:      maxLen,
		encDec:      util.NewJsonCodec[Event](),
	}
}

func (s *RedisStreamSink) Publish(event Event) error {
	data, err := s.encDec.Encode(event)
	if err != nil {
		return err
	}
	ctx := context.Background()
	return s.redisClient.XAdd(ctx, &rd.XAddArgs{
		Stream: s.streamKey,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":        string(event.Type),
			"executionId": event.ExecutionId,
			"payload":     string(data),
		},
	}).Err()
}
