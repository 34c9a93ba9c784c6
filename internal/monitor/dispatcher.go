// Package monitor wires the ZMQ subscriber, the node RPC client and the
// ledger ingester into the running process: one goroutine drains ZMQ
// notifications, publishes them to a Redis stream for durability, and a
// pool of consumers applies them to the ledger. A crash between ZMQ
// delivery and ledger application only loses the in-flight notification,
// not the stream entry, since XAdd happens before the handler runs.
package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"evrmarket/internal/ledger"
	"evrmarket/internal/zmqsub"
	"evrmarket/pkg/logger"
	"evrmarket/pkg/queue"

	"go.uber.org/zap"
)

const (
	StreamTx    = "evrmarket:tx"
	StreamBlock = "evrmarket:block"
	ConsumerGroup = "ledger-ingest"
)

type Dispatcher struct {
	sub      *zmqsub.Subscriber
	queue    *queue.StreamQueue
	ingester *ledger.Ingester

	consumerName string
	numConsumers int

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewDispatcher(sub *zmqsub.Subscriber, q *queue.StreamQueue, ingester *ledger.Ingester, consumerName string, numConsumers int) *Dispatcher {
	if numConsumers < 1 {
		numConsumers = 1
	}
	return &Dispatcher{
		sub:          sub,
		queue:        q,
		ingester:     ingester,
		consumerName: consumerName,
		numConsumers: numConsumers,
	}
}

type streamPayload struct {
	Topic string `json:"topic"`
	Hash  string `json:"hash"`
}

// Start declares the streams, launches the ZMQ->stream pump and the
// stream->ledger consumers, and returns once everything is running.
// Callers stop the whole thing by cancelling ctx or calling Stop.
func (d *Dispatcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.queue.DeclareStream(ctx, StreamTx, ConsumerGroup); err != nil {
		return err
	}
	if err := d.queue.DeclareStream(ctx, StreamBlock, ConsumerGroup); err != nil {
		return err
	}

	if err := d.sub.Start(ctx); err != nil {
		return err
	}

	d.wg.Add(1)
	go d.pumpNotifications(ctx)

	for i := 0; i < d.numConsumers; i++ {
		d.wg.Add(2)
		go d.consumeLoop(ctx, StreamTx, d.handleTx)
		go d.consumeLoop(ctx, StreamBlock, d.handleBlock)
	}

	return nil
}

func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.sub.Stop()
	d.wg.Wait()
}

func (d *Dispatcher) pumpNotifications(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-d.sub.Notifications():
			if !ok {
				return
			}
			stream := StreamTx
			if n.Topic == zmqsub.TopicHashBlock {
				stream = StreamBlock
			}
			payload, err := json.Marshal(streamPayload{Topic: n.Topic, Hash: n.Hash})
			if err != nil {
				logger.Error("failed to marshal notification", zap.Error(err))
				continue
			}
			if _, err := d.queue.Publish(ctx, stream, payload); err != nil {
				logger.Error("failed to publish notification to stream", zap.String("stream", stream), zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) consumeLoop(ctx context.Context, stream string, handle func(context.Context, string) error) {
	defer d.wg.Done()
	_ = d.queue.Consume(ctx, stream, ConsumerGroup, d.consumerName, func(messageID string, data []byte) error {
		var p streamPayload
		if err := json.Unmarshal(data, &p); err != nil {
			logger.Error("failed to unmarshal stream payload", zap.String("messageID", messageID), zap.Error(err))
			return nil // drop malformed payloads, don't block the group on them
		}
		return handle(ctx, p.Hash)
	})
}

func (d *Dispatcher) handleTx(ctx context.Context, txid string) error {
	return d.ingester.ProcessTransaction(ctx, txid)
}

func (d *Dispatcher) handleBlock(ctx context.Context, hash string) error {
	return d.ingester.ProcessBlock(ctx, hash)
}

// ReconcileLoop periodically re-applies the transactions fetchTxids
// returns, catching anything a dropped ZMQ notification missed.
func ReconcileLoop(ctx context.Context, ingester *ledger.Ingester, fetchTxids func(context.Context) ([]string, error), interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			txids, err := fetchTxids(ctx)
			if err != nil {
				logger.Error("reconciliation fetch failed", zap.Error(err))
				continue
			}
			if err := ingester.Reconcile(ctx, txids); err != nil {
				logger.Error("reconciliation apply failed", zap.Error(err))
			}
		}
	}
}
