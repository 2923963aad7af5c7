package intel

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Lease is a single-holder lock in redis. Only the holder's token can renew
// or release it, so an instance that stalls past the TTL cannot clobber the
// next leader.
type Lease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	token  string
}

func NewLease(client *redis.Client, key string, ttl time.Duration) *Lease {
	return &Lease{client: client, key: key, ttl: ttl}
}

var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire takes the lease when it is free. Returns false when another holder
// owns it.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	if ok {
		l.token = token
	}
	return ok, nil
}

// Renew extends the TTL while this instance still holds the lease.
func (l *Lease) Renew(ctx context.Context) error {
	n, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, l.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("renew lease %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("lease %s lost", l.key)
	}
	return nil
}

// Release frees the lease if this instance still holds it.
func (l *Lease) Release(ctx context.Context) {
	_, _ = releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result()
	l.token = ""
}
