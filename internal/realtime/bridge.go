package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	bridgeTopicPrefix = "rt:topic:"
	bridgeUserPrefix  = "rt:user:"
	bridgeQueueDepth  = 1024
)

type bridgeEnvelope struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

type bridgeOutbound struct {
	channel string
	payload []byte
}

// Bridge mirrors every published event over Redis pub/sub so sibling server
// processes behind the same store can deliver it to their own local
// subscribers. Events carry an origin instance id; a process ignores its own.
type Bridge struct {
	client     *redis.Client
	dispatcher *Dispatcher
	origin     string
	out        chan bridgeOutbound
	logger     *slog.Logger
}

func NewBridge(client *redis.Client, dispatcher *Dispatcher, logger *slog.Logger) *Bridge {
	return &Bridge{
		client:     client,
		dispatcher: dispatcher,
		origin:     uuid.New().String(),
		out:        make(chan bridgeOutbound, bridgeQueueDepth),
		logger:     logger,
	}
}

// MirrorTopic queues a topic event for cross-process publication. Never
// blocks the publish path; a full queue drops the mirror copy (local
// delivery already happened, remote clients reconcile on next fetch).
func (b *Bridge) MirrorTopic(topic Topic, data []byte) {
	b.enqueue(bridgeTopicPrefix+topic.String(), data)
}

// MirrorUser queues a user-scoped event for cross-process publication.
func (b *Bridge) MirrorUser(userID string, data []byte) {
	b.enqueue(bridgeUserPrefix+userID, data)
}

func (b *Bridge) enqueue(channel string, data []byte) {
	payload, err := json.Marshal(bridgeEnvelope{Origin: b.origin, Data: data})
	if err != nil {
		b.logger.Error("Failed to encode bridge envelope", "channel", channel, "error", err)
		return
	}
	select {
	case b.out <- bridgeOutbound{channel: channel, payload: payload}:
	default:
		b.logger.Warn("Bridge queue full, dropping mirror copy", "channel", channel)
	}
}

// Run drives the outbound forwarder and the inbound subscription until the
// context is cancelled. A single forwarder goroutine preserves per-channel
// publish order.
func (b *Bridge) Run(ctx context.Context) {
	go b.forward(ctx)

	pubsub := b.client.PSubscribe(ctx, bridgeTopicPrefix+"*", bridgeUserPrefix+"*")
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			b.handleInbound(msg)
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) forward(ctx context.Context) {
	for {
		select {
		case out := <-b.out:
			if err := b.client.Publish(ctx, out.channel, out.payload).Err(); err != nil {
				b.logger.Error("Failed to publish bridge event", "channel", out.channel, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) handleInbound(msg *redis.Message) {
	var env bridgeEnvelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.logger.Error("Malformed bridge payload", "channel", msg.Channel, "error", err)
		return
	}
	if env.Origin == b.origin {
		return
	}

	switch {
	case strings.HasPrefix(msg.Channel, bridgeTopicPrefix):
		topic, ok := parseTopic(strings.TrimPrefix(msg.Channel, bridgeTopicPrefix))
		if !ok {
			b.logger.Error("Unparseable bridge topic", "channel", msg.Channel)
			return
		}
		b.dispatcher.DeliverLocal(topic, env.Data)
	case strings.HasPrefix(msg.Channel, bridgeUserPrefix):
		b.dispatcher.DeliverLocalToUser(strings.TrimPrefix(msg.Channel, bridgeUserPrefix), env.Data)
	}
}

func parseTopic(s string) (Topic, bool) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok || id == "" {
		return Topic{}, false
	}
	switch TopicKind(kind) {
	case TopicKindUser:
		return UserTopic(id), true
	case TopicKindConversation:
		return ConversationTopic(id), true
	default:
		return Topic{}, false
	}
}
