// Package transport implements the GossipSub-based publish/subscribe layer
// Railgun's broadcaster fee protocol and POI gossip run over, grounded on
// the teacher's internal/p2p/node.go topic/subscription/handler pattern
// (simplified to pubsub only — this module's scope is fee-topic gossip,
// not full peer discovery, so the teacher's Kademlia DHT and mDNS layers
// are not carried over; see DESIGN.md).
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
)

// MessageHandler processes one gossip message's raw payload. Handlers run
// on the subscription's read goroutine; slow handlers should hand off work
// rather than block it.
type MessageHandler func(ctx context.Context, from peer.ID, data []byte) error

// Config configures a GossipSubNode's listen addresses. A nil Config uses
// an ephemeral key and an OS-assigned TCP port, suitable for a wallet that
// only needs to consume gossip rather than be dialable.
type Config struct {
	ListenAddrs []string
}

// GossipSubNode is a libp2p host joined to zero or more GossipSub topics,
// generalized from the teacher's fixed block/transaction/task topic set
// into an open set of named content topics (Railgun's per-chain
// broadcaster-fee and POI-status topics).
type GossipSubNode struct {
	mu sync.Mutex

	host   host.Host
	pubsub *pubsub.PubSub

	topics   map[string]*pubsub.Topic
	subs     map[string]*pubsub.Subscription
	cancelFn map[string]context.CancelFunc
}

// NewGossipSubNode starts a libp2p host and joins it to the GossipSub
// router, ready to Join individual topics.
func NewGossipSubNode(ctx context.Context, cfg *Config) (*GossipSubNode, error) {
	opts := []libp2p.Option{}
	if cfg != nil {
		for _, addr := range cfg.ListenAddrs {
			opts = append(opts, libp2p.ListenAddrStrings(addr))
		}
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("transport: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("transport: create gossipsub: %w", err)
	}

	return &GossipSubNode{
		host:     h,
		pubsub:   ps,
		topics:   make(map[string]*pubsub.Topic),
		subs:     make(map[string]*pubsub.Subscription),
		cancelFn: make(map[string]context.CancelFunc),
	}, nil
}

// ID returns the node's libp2p peer ID.
func (n *GossipSubNode) ID() peer.ID { return n.host.ID() }

// Join subscribes to a content topic and starts delivering its messages to
// handler until ctx is cancelled, Leave is called or the node is closed.
// Messages published
// by this node itself are not delivered back to handler.
func (n *GossipSubNode) Join(ctx context.Context, contentTopic string, handler MessageHandler) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.topics[contentTopic]; ok {
		return nil
	}

	topic, err := n.pubsub.Join(contentTopic)
	if err != nil {
		return fmt.Errorf("transport: join topic %q: %w", contentTopic, err)
	}
	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return fmt.Errorf("transport: subscribe to %q: %w", contentTopic, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	n.topics[contentTopic] = topic
	n.subs[contentTopic] = sub
	n.cancelFn[contentTopic] = cancel

	go n.readLoop(subCtx, sub, handler)
	return nil
}

func (n *GossipSubNode) readLoop(ctx context.Context, sub *pubsub.Subscription, handler MessageHandler) {
	selfID := n.host.ID()
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == selfID {
			continue
		}
		if handler != nil {
			_ = handler(ctx, msg.ReceivedFrom, msg.Data)
		}
	}
}

// Publish sends data to every subscriber of a content topic this node has
// joined.
func (n *GossipSubNode) Publish(ctx context.Context, contentTopic string, data []byte) error {
	n.mu.Lock()
	topic, ok := n.topics[contentTopic]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("transport: not joined to topic %q", contentTopic)
	}
	return topic.Publish(ctx, data)
}

// Leave cancels a topic's read loop and closes its subscription.
func (n *GossipSubNode) Leave(contentTopic string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if cancel, ok := n.cancelFn[contentTopic]; ok {
		cancel()
		delete(n.cancelFn, contentTopic)
	}
	if sub, ok := n.subs[contentTopic]; ok {
		sub.Cancel()
		delete(n.subs, contentTopic)
	}
	if topic, ok := n.topics[contentTopic]; ok {
		topic.Close()
		delete(n.topics, contentTopic)
	}
}

// Close shuts down every joined topic and the underlying libp2p host.
func (n *GossipSubNode) Close() error {
	n.mu.Lock()
	topics := make([]string, 0, len(n.topics))
	for t := range n.topics {
		topics = append(topics, t)
	}
	n.mu.Unlock()

	for _, t := range topics {
		n.Leave(t)
	}
	return n.host.Close()
}
