package realtime

import (
	"hash/fnv"
	"log/slog"
	"sync"
)

const topicLockStripes = 64

// Sink receives a copy of every published event, already encoded, for
// cross-process mirrors. Implementations must not block the publish path.
type Sink interface {
	MirrorTopic(topic Topic, data []byte)
	MirrorUser(userID string, data []byte)
}

// Dispatcher delivers events to every currently subscribed connection.
// Delivery is best-effort and at-most-once per live connection per call; a
// connection that is not subscribed at publish time recovers missed state
// from the persisted store on reconnect.
//
// Publishes to the same topic are serialized with striped per-topic locks, so
// a given subscriber observes single-topic FIFO order. No ordering holds
// across topics.
type Dispatcher struct {
	rooms    *RoomIndex
	registry *Registry
	sink     Sink
	logger   *slog.Logger

	stripes [topicLockStripes]sync.Mutex
}

func NewDispatcher(rooms *RoomIndex, registry *Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		rooms:    rooms,
		registry: registry,
		logger:   logger,
	}
}

// SetSink attaches a cross-process mirror. Must be called before the
// dispatcher starts publishing.
func (d *Dispatcher) SetSink(sink Sink) {
	d.sink = sink
}

func (d *Dispatcher) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &d.stripes[h.Sum32()%topicLockStripes]
}

// Publish delivers the event to every current subscriber of the topic and
// mirrors it for other processes.
func (d *Dispatcher) Publish(topic Topic, event *Event) {
	data, err := event.Encode()
	if err != nil {
		d.logger.Error("Failed to encode event", "kind", event.Kind, "topic", topic.String(), "error", err)
		return
	}
	d.deliver(topic, data)
	if d.sink != nil {
		d.sink.MirrorTopic(topic, data)
	}
}

// PublishToUser delivers the event to every live connection of the user,
// bypassing topic subscriptions. Used for account-scoped notifications the
// recipient may not have joined any topic for yet.
func (d *Dispatcher) PublishToUser(userID string, event *Event) {
	data, err := event.Encode()
	if err != nil {
		d.logger.Error("Failed to encode event", "kind", event.Kind, "userID", userID, "error", err)
		return
	}
	d.deliverToUser(userID, data)
	if d.sink != nil {
		d.sink.MirrorUser(userID, data)
	}
}

// DeliverLocal hands an already-encoded event from the cross-process bridge
// to local subscribers only, without re-mirroring.
func (d *Dispatcher) DeliverLocal(topic Topic, data []byte) {
	d.deliver(topic, data)
}

// DeliverLocalToUser hands an already-encoded user-scoped event from the
// bridge to the user's local connections only.
func (d *Dispatcher) DeliverLocalToUser(userID string, data []byte) {
	d.deliverToUser(userID, data)
}

func (d *Dispatcher) deliver(topic Topic, data []byte) {
	mu := d.stripe(topic.String())
	mu.Lock()
	defer mu.Unlock()

	for _, conn := range d.rooms.Subscribers(topic) {
		if err := conn.Send(data); err != nil {
			// Stale subscription: the connection closed under us. Prune it
			// lazily and keep delivering to the rest.
			d.logger.Debug("Pruning stale subscription", "connID", conn.ID, "topic", topic.String(), "error", err)
			d.rooms.Leave(conn.ID, topic)
		}
	}
}

func (d *Dispatcher) deliverToUser(userID string, data []byte) {
	mu := d.stripe("user-direct:" + userID)
	mu.Lock()
	defer mu.Unlock()

	for _, conn := range d.registry.ConnectionsFor(userID) {
		if err := conn.Send(data); err != nil {
			d.logger.Debug("Skipping dead connection", "connID", conn.ID, "userID", userID, "error", err)
		}
	}
}
