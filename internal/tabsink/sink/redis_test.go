package sink

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withRedis(t *testing.T, action func(s *miniredis.Miniredis, r *Redis)) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	r := NewRedis(RedisConfig{Addr: s.Addr(), PoolSize: 4})
	defer r.Close()
	action(s, r)
}

func TestRedis_KeyedPayload(t *testing.T) {
	withRedis(t, func(s *miniredis.Miniredis, r *Redis) {
		payload := KeyedPayload{Key: "42", Values: map[string]string{"id": "42", "name": "alice", "city": "leeds"}}
		err := r.Execute(context.Background(), "person:", payload, Options{"ttl": "1h"})
		require.NoError(t, err)

		assert.Equal(t, "42", s.HGet("person:42", "id"))
		assert.Equal(t, "alice", s.HGet("person:42", "name"))
		assert.Equal(t, "leeds", s.HGet("person:42", "city"))
		assert.Equal(t, time.Hour, s.TTL("person:42"))
	})
}

func TestRedis_PositionalPayload(t *testing.T) {
	withRedis(t, func(s *miniredis.Miniredis, r *Redis) {
		require.NoError(t, r.Execute(context.Background(), "rows", []string{"1", "alice"}, nil))
		require.NoError(t, r.Execute(context.Background(), "rows", []string{"2", "bob"}, nil))

		list, err := s.List("rows")
		require.NoError(t, err)
		assert.Equal(t, []string{"1\talice", "2\tbob"}, list)
		assert.GreaterOrEqual(t, r.PoolState().ConnectedChannels, 1)
	})
}

func TestRedis_UnsupportedPayloads(t *testing.T) {
	withRedis(t, func(s *miniredis.Miniredis, r *Redis) {
		err := r.Execute(context.Background(), "rows", map[string]string{"a": "b"}, nil)
		assert.ErrorIs(t, err, ErrUnsupportedPayload)

		err = r.Execute(context.Background(), "rows", KeyedPayload{Key: "1"}, nil)
		assert.ErrorIs(t, err, ErrUnsupportedPayload)
	})
}

func TestRedis_ServerDown(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	r := NewRedis(RedisConfig{Addr: s.Addr()})
	defer r.Close()
	require.NoError(t, r.Ping(context.Background()))

	s.Close()
	assert.Error(t, r.Execute(context.Background(), "rows", []string{"1"}, nil))
}

func TestOpenRedis(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	r, err := OpenRedis(context.Background(), RedisConfig{Addr: s.Addr()})
	require.NoError(t, err)
	assert.NoError(t, r.Close())
}

func TestOpenRedis_Unreachable(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	addr := s.Addr()
	s.Close()

	_, err = OpenRedis(context.Background(), RedisConfig{Addr: addr, ConnectAttempts: 2, ConnectDelay: time.Millisecond})
	assert.Error(t, err)
}
