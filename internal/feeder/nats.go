// Package feeder ingests batches pushed by local ADS-B receivers over NATS.
// The HTTP push endpoint covers one-shot feeders; NATS carries the
// long-running ones without per-batch connection overhead.
package feeder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/metrics"
	"github.com/skytrack/skytrack/internal/model"
	"github.com/skytrack/skytrack/internal/queue"
)

const enqueueTimeout = 5 * time.Second

// batch mirrors the HTTP push body.
type batch struct {
	States []model.AircraftState `json:"states"`
}

// Intake subscribes to the feeder subject and enqueues what arrives.
type Intake struct {
	conn    *nats.Conn
	subject string
	queue   queue.Queue[model.QueueMessage]
	sub     *nats.Subscription
}

// NewIntake connects to the broker. Reconnects are unbounded; feeder data is
// continuous and the broker being down should not kill the process.
func NewIntake(url, subject string, q queue.Queue[model.QueueMessage]) (*Intake, error) {
	conn, err := nats.Connect(url,
		nats.Name("skytrack-feeder-intake"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logging.Warn("feeder: nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logging.Info("feeder: nats reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("feeder: connect: %w", err)
	}
	return &Intake{conn: conn, subject: subject, queue: q}, nil
}

// Start subscribes; message handling runs on the NATS delivery goroutine.
func (i *Intake) Start() error {
	sub, err := i.conn.Subscribe(i.subject, func(m *nats.Msg) {
		i.handleBatch(m.Data)
	})
	if err != nil {
		return fmt.Errorf("feeder: subscribe %s: %w", i.subject, err)
	}
	i.sub = sub
	logging.Info("feeder: nats intake started", zap.String("subject", i.subject))
	return nil
}

// handleBatch validates and enqueues one pushed batch. Backpressure drops
// the rest of the batch; feeders re-observe every few seconds anyway.
func (i *Intake) handleBatch(data []byte) (queued, rejected int) {
	var b batch
	if err := json.Unmarshal(data, &b); err != nil {
		metrics.StatesRejected.WithLabelValues(string(model.SourceFeeder), "malformed").Inc()
		logging.Debug("feeder: malformed batch", zap.Error(err))
		return 0, 0
	}

	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()
	for _, st := range b.States {
		st.DataSource = model.SourceFeeder
		st.SourcePriority = model.SourceFeeder.Priority()
		st.Normalize()
		if err := st.Validate(); err != nil {
			rejected++
			metrics.StatesRejected.WithLabelValues(string(model.SourceFeeder), "validation").Inc()
			continue
		}
		err := i.queue.Enqueue(ctx, model.NewQueueMessage(st, false), false)
		if errors.Is(err, queue.ErrBackpressure) {
			logging.Warn("feeder: queue over high-water mark, dropping batch remainder",
				zap.Int("queued", queued),
				zap.Int("dropped", len(b.States)-queued-rejected))
			return queued, rejected
		}
		if err != nil {
			logging.Error("feeder: enqueue", zap.Error(err))
			return queued, rejected
		}
		queued++
	}
	return queued, rejected
}

// Close drains the subscription and the connection.
func (i *Intake) Close() {
	if i.sub != nil {
		i.sub.Drain()
	}
	i.conn.Drain()
	i.conn.Close()
}
