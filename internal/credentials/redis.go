package credentials

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSource locates the credential keys in Redis:
//
//	<Prefix>:access_key  string, the shared access key
//	<Prefix>:users       set of "username:secret" members
type RedisSource struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func (rs RedisSource) prefix() string {
	if rs.Prefix == "" {
		return "husky"
	}
	return rs.Prefix
}

// LoadRedis reads the credential set once and closes the client. An access
// key passed explicitly wins over the one stored in Redis.
func LoadRedis(ctx context.Context, rs RedisSource, accessKey string) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: rs.Addr, Password: rs.Password, DB: rs.DB})
	defer rdb.Close()
	return loadFrom(ctx, rdb, rs.prefix(), accessKey)
}

func loadFrom(ctx context.Context, rdb redis.UniversalClient, prefix, accessKey string) (*Store, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	if accessKey == "" {
		v, err := rdb.Get(ctx, prefix+":access_key").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("redis get access key: %w", err)
		}
		accessKey = v
	}
	keys, err := rdb.SMembers(ctx, prefix+":users").Result()
	if err != nil {
		return nil, fmt.Errorf("redis read users: %w", err)
	}
	return New(accessKey, keys)
}
