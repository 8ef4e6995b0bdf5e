package redis

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func TestEvaluationQueue(t *testing.T) {
	srv := miniredis.RunT(t)
	conf := Config{Addrs: []string{srv.Addr()}, Namespace: "test"}
	queue := NewRedisEvaluationQueue(conf)

	require.NoError(t, queue.Push("e1"))
	require.NoError(t, queue.Push("e2"))
	require.NoError(t, queue.Push("e3"))

	res, err := queue.Pop(2)
	require.NoError(t, err)
	require.Len(t, res, 2)

	res, err = queue.Pop(10)
	require.NoError(t, err)
	require.Equal(t, []string{"e1"}, res)

	res, err = queue.Pop(10)
	require.NoError(t, err)
	require.Empty(t, res)
}

func TestDelayQueue(t *testing.T) {
	srv := miniredis.RunT(t)
	conf := Config{Addrs: []string{srv.Addr()}, Namespace: "test"}
	queue := NewRedisDelayQueue(conf)

	require.NoError(t, queue.PushWithDelay([]byte("due"), 0))
	require.NoError(t, queue.PushWithDelay([]byte("later"), time.Hour))

	res, err := queue.Pop()
	require.NoError(t, err)
	require.Equal(t, []string{"due"}, res)

	res, err = queue.Pop()
	require.NoError(t, err)
	require.Empty(t, res)

	require.NoError(t, queue.PushWithDelay([]byte("past-due"), -time.Minute))
	res, err = queue.Pop()
	require.NoError(t, err)
	require.Equal(t, []string{"past-due"}, res)
}
