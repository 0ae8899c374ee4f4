package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"
)

// DefaultTTL keeps processed message ids long enough to cover the
// platform's webhook redelivery window.
const DefaultTTL = 24 * time.Hour

// Cache remembers which platform message ids were already accepted, so
// webhook redeliveries are dropped before they reach the queue.
type Cache struct {
	client valkey.Client
	ttl    time.Duration
}

// New connects to valkey and verifies the connection with a ping.
func New(addr, password string, ttl time.Duration) (*Cache, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
		Password:    password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pingCmd := client.B().Ping().Build()
	if err := client.Do(ctx, pingCmd).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping valkey: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// MarkProcessed records the message id and reports whether this call was
// the first to see it. Returns false for redeliveries.
func (c *Cache) MarkProcessed(ctx context.Context, messageID string) (bool, error) {
	key := fmt.Sprintf("processed_message:%s", messageID)

	setCmd := c.client.B().Set().
		Key(key).
		Value("1").
		Nx().
		Ex(c.ttl).
		Build()

	result := c.client.Do(ctx, setCmd)
	if err := result.Error(); err != nil {
		if valkey.IsValkeyNil(err) {
			// SET NX replies nil when the key already existed.
			return false, nil
		}
		return false, fmt.Errorf("failed to mark message processed: %w", err)
	}
	return true, nil
}

// Close closes the client connection.
func (c *Cache) Close() {
	c.client.Close()
}
