// Package zmqsub subscribes to the node's hashtx/hashblock/sequence ZMQ
// publishers and feeds a bounded channel of Notification values to the
// Monitor. Built on lightninglabs/gozmq, the same ZMQ binding the
// teacher's neutrino dependency already pulls in transitively.
package zmqsub

import (
	"context"
	"encoding/hex"
	"time"

	"go.uber.org/zap"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightninglabs/gozmq"
)

// Topic names exactly as published by the node (spec §6).
const (
	TopicHashTx    = "hashtx"
	TopicHashBlock = "hashblock"
	TopicSequence  = "sequence"
)

// Notification is a single ZMQ frame translated into a topic/hash/sequence
// tuple. Delivery is best-effort: a dropped frame here is recovered by the
// Monitor's periodic reconciliation sweep, never retried at this layer.
type Notification struct {
	Topic     string
	Hash      string
	Sequence  uint32
	Received  time.Time
}

// Endpoints names the three ZMQ publisher addresses read from the node's
// conf file.
type Endpoints struct {
	HashTx    string
	HashBlock string
	Sequence  string
}

// Subscriber owns one gozmq.Context per configured endpoint and merges
// their frames into a single bounded output channel.
type Subscriber struct {
	endpoints Endpoints
	out       chan Notification
	logger    *zap.Logger
	cancel    context.CancelFunc
}

// New builds a Subscriber with the given output queue depth. Notifications
// are dropped (logged, never blocked on) once the queue is full, matching
// spec §4.2's "best-effort, may be lossy under load" contract.
func New(endpoints Endpoints, queueDepth int, logger *zap.Logger) *Subscriber {
	return &Subscriber{
		endpoints: endpoints,
		out:       make(chan Notification, queueDepth),
		logger:    logger,
	}
}

// Notifications returns the channel the Monitor drains.
func (s *Subscriber) Notifications() <-chan Notification {
	return s.out
}

// Start connects to every configured endpoint and begins forwarding
// frames. It returns once all subscriptions are established; frame
// delivery continues on background goroutines until Stop is called.
func (s *Subscriber) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	specs := []struct {
		topic    string
		endpoint string
	}{
		{TopicHashTx, s.endpoints.HashTx},
		{TopicHashBlock, s.endpoints.HashBlock},
		{TopicSequence, s.endpoints.Sequence},
	}

	for _, spec := range specs {
		if spec.endpoint == "" {
			s.logger.Warn("no endpoint configured for zmq topic, skipping", zap.String("topic", spec.topic))
			continue
		}
		if err := s.subscribeTopic(ctx, spec.topic, spec.endpoint); err != nil {
			cancel()
			return err
		}
	}
	return nil
}

func (s *Subscriber) subscribeTopic(ctx context.Context, topic, endpoint string) error {
	zmqCtx, err := gozmq.NewContext(endpoint, 5*time.Second)
	if err != nil {
		return err
	}

	frames, errs, err := zmqCtx.Subscribe(topic)
	if err != nil {
		return err
	}

	go s.pump(ctx, topic, frames, errs)
	return nil
}

func (s *Subscriber) pump(ctx context.Context, topic string, frames <-chan []byte, errs <-chan error) {
	var seq uint32
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			s.logger.Error("zmq subscription error", zap.String("topic", topic), zap.Error(err))
		case frame := <-frames:
			n := Notification{
				Topic:    topic,
				Hash:     hashHex(frame),
				Sequence: seq,
				Received: time.Now(),
			}
			seq++
			select {
			case s.out <- n:
			default:
				s.logger.Warn("zmq notification queue full, dropping frame",
					zap.String("topic", topic), zap.String("hash", n.Hash))
			}
		}
	}
}

// Stop cancels all subscriptions. Frames already queued stay in the
// channel; Stop does not close it.
func (s *Subscriber) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// hashHex renders a raw ZMQ hash frame in the conventional display order.
// The node publishes hashtx/hashblock frames in internal (little-endian)
// byte order; chainhash.Hash's String method does the same reversal the
// node's own RPC layer applies, so a hash read off the wire here matches
// the txid/blockhash strings the RPC client returns elsewhere.
func hashHex(frame []byte) string {
	if len(frame) != chainhash.HashSize {
		return hex.EncodeToString(frame)
	}
	h, err := chainhash.NewHash(frame)
	if err != nil {
		return hex.EncodeToString(frame)
	}
	return h.String()
}
