//go:build integration

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/xisvar/the-oan/internal/state"
)

type RedisCacheSuite struct {
	suite.Suite
	cache *Redis
}

func TestRedisCacheSuite(t *testing.T) {
	addr := os.Getenv("OAN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("OAN_TEST_REDIS_ADDR not set")
	}
	client, err := Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("dial redis: %v", err)
	}
	s := &RedisCacheSuite{cache: NewRedis(client, time.Minute)}
	t.Cleanup(func() { _ = s.cache.Close() })
	suite.Run(t, s)
}

func (s *RedisCacheSuite) TestRoundTrip() {
	ctx := context.Background()
	id := "did:oan:redis-" + time.Now().Format("150405.000000")

	_, ok, err := s.cache.Get(ctx, id, "v1")
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(s.cache.Put(ctx, id, "v1", state.Profile{DID: id, Name: "Ngozi"}))
	p, ok, err := s.cache.Get(ctx, id, "v1")
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("Ngozi", p.Name)

	_, ok, err = s.cache.Get(ctx, id, "v2")
	s.Require().NoError(err)
	s.False(ok)
}
