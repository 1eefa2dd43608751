package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/tabtime/internal/config"
	"github.com/goodtune/tabtime/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis.
// Value changes are published on a pub/sub channel, so watchers in every
// process sharing the server observe writes made by any of them.
type Store struct {
	client     *redis.Client
	keys       keyspace
	valueStore *valueStore
	usageStore *usageStore

	changes storage.Broadcaster
	pubsub  *redis.PubSub
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keys := newKeyspace(cfg.KeyPrefix)
	store := &Store{
		client:     client,
		keys:       keys,
		valueStore: &valueStore{client: client, keys: keys},
		usageStore: &usageStore{client: client, keys: keys},
	}
	store.valueStore.changes = &store.changes

	if err := store.subscribe(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return store, nil
}

// subscribe attaches to the change channel and fans messages out to local
// watchers until Close.
func (s *Store) subscribe(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.keys.changes())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to change channel: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.pubsub = pubsub
	s.cancel = cancel

	messages := pubsub.Channel()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var change storage.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					continue
				}
				s.changes.Publish(change)
			}
		}
	}()
	return nil
}

// Close stops the change subscriber and closes the Redis connection
func (s *Store) Close() error {
	s.cancel()
	_ = s.pubsub.Close()
	s.wg.Wait()
	return s.client.Close()
}

// Values returns the ValueStore implementation
func (s *Store) Values() storage.ValueStore {
	return s.valueStore
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return s.usageStore
}
