package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSwitchTTL bounds how long an idle peer's switch state survives.
const DefaultSwitchTTL = 24 * time.Hour

const maxUpdateRetries = 10

// RedisSwitchStore shares switch state between instances of a test rig.
type RedisSwitchStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ SwitchStore = (*RedisSwitchStore)(nil)

func NewRedisSwitchStore(ctx context.Context, addr, password string, db int) (*RedisSwitchStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return &RedisSwitchStore{client: rdb, ttl: DefaultSwitchTTL}, nil
}

func switchKey(peer string) string {
	return "switch:" + peer
}

func (r *RedisSwitchStore) Load(ctx context.Context, peer string) (SwitchState, error) {
	var st SwitchState
	val, err := r.client.Get(ctx, switchKey(peer)).Bytes()
	if errors.Is(err, redis.Nil) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("redis get failed: %w", err)
	}
	if err := json.Unmarshal(val, &st); err != nil {
		return st, fmt.Errorf("unmarshal switch state: %w", err)
	}
	return st, nil
}

// Update reads, modifies and writes the peer's state in a WATCH/MULTI
// transaction, retrying when another instance changed it in between.
func (r *RedisSwitchStore) Update(ctx context.Context, peer string, fn func(*SwitchState) error) error {
	key := switchKey(peer)
	txf := func(tx *redis.Tx) error {
		var st SwitchState
		val, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return fmt.Errorf("redis get failed: %w", err)
		default:
			if err := json.Unmarshal(val, &st); err != nil {
				return fmt.Errorf("unmarshal switch state: %w", err)
			}
		}

		if err := fn(&st); err != nil {
			return err
		}
		data, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("marshal switch state: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, r.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis update of %s: %w", key, redis.TxFailedErr)
}

func (r *RedisSwitchStore) Delete(ctx context.Context, peer string) error {
	if err := r.client.Del(ctx, switchKey(peer)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

func (r *RedisSwitchStore) Close() error {
	return r.client.Close()
}
