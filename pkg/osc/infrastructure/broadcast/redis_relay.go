package broadcast

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/tigerroll/mysqler/pkg/osc/core/application/port"
	"github.com/tigerroll/mysqler/pkg/osc/core/config"
	model "github.com/tigerroll/mysqler/pkg/osc/core/domain/model"
	"github.com/tigerroll/mysqler/pkg/osc/support/util/logger"
)

// RedisRelay mirrors events between nodes over a Redis pub/sub channel. Local events are published
// locally and forwarded; remote events are republished locally only. Events carrying this node's
// origin are ignored on receipt, so nothing loops.
type RedisRelay struct {
	local    *Broadcaster
	client   redis.UniversalClient
	channel  string
	outbound chan model.Event

	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewRedisClient creates a client from the relay configuration.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisRelay wraps local. Call Start before publishing.
func NewRedisRelay(local *Broadcaster, client redis.UniversalClient, channel string, buffer int) *RedisRelay {
	if buffer < 1 {
		buffer = 1
	}
	return &RedisRelay{
		local:    local,
		client:   client,
		channel:  channel,
		outbound: make(chan model.Event, buffer),
	}
}

// Start subscribes to the channel and starts the forwarding goroutines.
func (r *RedisRelay) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	r.pubsub = r.client.Subscribe(ctx, r.channel)
	if _, err := r.pubsub.Receive(ctx); err != nil {
		cancel()
		_ = r.pubsub.Close()
		return err
	}
	logger.Infof("Broadcaster: relaying events over redis channel %s (node %s)", r.channel, r.local.NodeID())

	r.wg.Add(2)
	go r.receive(r.pubsub.Channel())
	go r.forward(runCtx)
	return nil
}

func (r *RedisRelay) receive(msgs <-chan *redis.Message) {
	defer r.wg.Done()
	for msg := range msgs {
		var ev model.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			logger.Warnf("Broadcaster: ignoring malformed relay message: %v", err)
			continue
		}
		if ev.Origin == r.local.NodeID() {
			continue
		}
		r.local.deliver(ev)
	}
}

func (r *RedisRelay) forward(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.outbound:
			payload, err := json.Marshal(ev)
			if err != nil {
				logger.Errorf("Broadcaster: failed to encode event for relay: %v", err)
				continue
			}
			if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
				logger.Warnf("Broadcaster: relay publish failed: %v", err)
			}
		}
	}
}

// Publish delivers ev locally and queues it for other nodes. The relay queue drops on overflow.
func (r *RedisRelay) Publish(ev model.Event) {
	ev = r.local.stamp(ev)
	r.local.deliver(ev)
	select {
	case r.outbound <- ev:
	default:
		logger.Warnf("Broadcaster: relay queue full, event %d of job %s not forwarded", ev.Seq, ev.JobID)
	}
}

// Subscribe subscribes on the local hub, which also carries remote events.
func (r *RedisRelay) Subscribe(jobID string) (port.Subscription, error) {
	return r.local.Subscribe(jobID)
}

// Stop closes the subscription and waits for the goroutines.
func (r *RedisRelay) Stop() error {
	var err error
	r.once.Do(func() {
		if r.cancel != nil {
			r.cancel()
		}
		if r.pubsub != nil {
			err = r.pubsub.Close()
		}
		r.wg.Wait()
	})
	return err
}

var _ port.Broadcaster = (*RedisRelay)(nil)
