// Package gossip implements the topic-based publish/subscribe layer over
// the DHT overlay (spec component C8). It owns the Overlay instance, per
// the "DHT back-reference to consensus" design note: consensus never
// imports gossip or dht; cmd/noded registers Handler callbacks on a Layer
// and those callbacks call into the consensus engine.
package gossip

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"solidus/p2p/dht"
)

// Message is the wire payload carried on every topic (spec §4.6).
type Message struct {
	Topic     string `json:"topic"`
	Recursive uint8  `json:"recursive"`
	Payload   []byte `json:"payload"`
}

// Handler processes an inbound message for a topic. The returned bool
// decides whether the message should be relayed one more hop (consulted
// only when msg.Recursive > 0); for the "votes" topic this is wired to
// consensus.Engine.HasEnoughVotesRemote per the documented open-question
// policy (see SPEC_FULL.md design notes).
type Handler func(msg Message, from dht.Node) (relay bool)

const defaultFanout = 20

// Layer is the gossip pub/sub dispatcher.
type Layer struct {
	overlay *dht.Overlay
	seen    *seenCache
	logger  *slog.Logger

	mu       sync.RWMutex
	handlers map[string][]Handler
}

// New constructs a Layer over overlay. It registers itself as the
// overlay's sole OnBroadcast consumer.
func New(overlay *dht.Overlay, logger *slog.Logger) *Layer {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Layer{
		overlay:  overlay,
		seen:     newSeenCache(10*time.Minute, 50_000),
		logger:   logger,
		handlers: make(map[string][]Handler),
	}
	overlay.OnBroadcast(l.onBroadcast)
	return l
}

// Subscribe registers handler for topic. Unknown topics (those with no
// subscriber) are dropped silently on receipt, per spec §4.6.
func (l *Layer) Subscribe(topic string, handler Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[topic] = append(l.handlers[topic], handler)
}

// Publish hands the message to the DHT for one-hop fanout to up to
// `fanout` random peers from the overlay's healthy set. If the healthy set
// is empty the message is dropped (see dht.Overlay.Broadcast).
func (l *Layer) Publish(ctx context.Context, topic string, payload []byte) error {
	return l.publish(ctx, topic, payload, 1, defaultFanout)
}

func (l *Layer) publish(ctx context.Context, topic string, payload []byte, recursive uint8, fanout int) error {
	msg := Message{Topic: topic, Recursive: recursive, Payload: payload}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wire := dht.WireMessage{Kind: "broadcast", Payload: body}
	l.overlay.Broadcast(ctx, wire, fanout)
	return nil
}

func (l *Layer) onBroadcast(wire dht.WireMessage, from dht.Node) {
	if wire.Kind != "broadcast" {
		return
	}
	var msg Message
	if err := json.Unmarshal(wire.Payload, &msg); err != nil {
		l.logger.Debug("gossip: malformed message", "err", err)
		return
	}

	// Idempotence is enforced by content per spec §4.6; this cache is a
	// performance guard against redundant handler invocation, not the
	// source of protocol correctness — consensus's own dedup (vote
	// signer sets, pending-block identity) remains authoritative.
	if l.seen.SeenBefore(msg.Topic, msg.Payload) {
		return
	}

	l.mu.RLock()
	handlers := append([]Handler(nil), l.handlers[msg.Topic]...)
	l.mu.RUnlock()
	if len(handlers) == 0 {
		return // unknown topic, dropped
	}

	relay := false
	for _, h := range handlers {
		if h(msg, from) {
			relay = true
		}
	}

	if relay && msg.Recursive > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()
		_ = l.publish(ctx, msg.Topic, msg.Payload, msg.Recursive-1, defaultFanout)
	}
}
