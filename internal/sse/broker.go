package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/remotecast/relay-server-go/internal/config"
	"github.com/remotecast/relay-server-go/internal/model"
	redisclient "github.com/remotecast/relay-server-go/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second

	clientBufferSize = 100
	queueSize        = 256
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Lifecycle is the payload of every lifecycle event. It never carries
// tokens, pair codes or relayed session payloads.
type Lifecycle struct {
	SessionID string `json:"sessionId"`
	RemoteID  string `json:"remoteId,omitempty"`
	At        int64  `json:"at"`
}

type Client struct {
	Events chan Event
	Done   chan struct{}
}

// Broker fans lifecycle events out to operator SSE streams. With a Redis
// client, events go through the Redis channel so every subscriber sees the
// same stream; without one they are broadcast in-process.
type Broker struct {
	redis   *redisclient.Client
	clients map[*Client]bool
	mu      sync.RWMutex
	queue   chan Event
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		redis:   redisClient,
		clients: make(map[*Client]bool),
		queue:   make(chan Event, queueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	b.wg.Add(1)
	go b.drain()

	if redisClient != nil {
		b.wg.Add(1)
		go b.subscribeToRedis()
	}

	return b
}

func (b *Broker) Subscribe() *Client {
	client := &Client{
		Events: make(chan Event, clientBufferSize),
		Done:   make(chan struct{}),
	}

	b.mu.Lock()
	b.clients[client] = true
	clientCount := len(b.clients)
	b.mu.Unlock()

	log.Info().Int("clientCount", clientCount).Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		close(client.Done)

		log.Info().Int("clientCount", len(b.clients)).Msg("sse client unsubscribed")
	}
}

// Emit queues a lifecycle event without blocking. When the queue is full the
// event is dropped.
func (b *Broker) Emit(kind model.LifecycleEvent, sessionID, remoteID string) {
	data, err := json.Marshal(Lifecycle{
		SessionID: sessionID,
		RemoteID:  remoteID,
		At:        time.Now().UnixMilli(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal lifecycle event")
		return
	}

	select {
	case b.queue <- Event{Type: string(kind), Data: data}:
	default:
		log.Warn().Str("event", string(kind)).Msg("lifecycle queue full, dropping event")
	}
}

func (b *Broker) drain() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case event := <-b.queue:
			if b.redis == nil {
				b.broadcast(event)
				continue
			}
			if err := b.publish(event); err != nil {
				log.Warn().Err(err).Str("event", event.Type).Msg("failed to publish lifecycle event")
			}
		}
	}
}

func (b *Broker) publish(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(b.ctx, config.RedisPublishTimeout)
	defer cancel()

	return b.redis.Publish(ctx, redisclient.LifecycleChannel, data).Err()
}

func (b *Broker) subscribeToRedis() {
	defer b.wg.Done()

	pubsub := b.redis.Subscribe(b.ctx, redisclient.LifecycleChannel)
	defer pubsub.Close()

	log.Debug().Str("channel", redisclient.LifecycleChannel).Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal lifecycle event")
				continue
			}

			b.broadcast(event)
		}
	}
}

func (b *Broker) broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().Msg("sse client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()

	for client := range b.clients {
		close(client.Done)
	}
	b.clients = make(map[*Client]bool)
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
