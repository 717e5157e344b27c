package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/skytrack/skytrack/internal/config"
	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/model"
)

const (
	chFlushInterval = 5 * time.Second
	chFlushBatch    = 1000
)

// ClickHouse mirrors accepted history rows into a columnar table for
// analytics. Writes are buffered and flushed in batches; any failure is
// logged and dropped, never propagated to the ingest path.
type ClickHouse struct {
	conn driver.Conn

	mu  sync.Mutex
	buf []model.AircraftState

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewClickHouse connects and starts the flush loop.
func NewClickHouse(ctx context.Context, cfg config.HistoryConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("store: clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store: clickhouse ping: %w", err)
	}

	c := &ClickHouse{
		conn: conn,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if err := c.ensureSchema(ctx); err != nil {
		return nil, err
	}
	go c.runFlusher()
	return c, nil
}

func (c *ClickHouse) ensureSchema(ctx context.Context) error {
	err := c.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS aircraft_state_history (
			icao24          LowCardinality(String),
			ts              DateTime,
			latitude        Float64,
			longitude       Float64,
			baro_altitude   Nullable(Float64),
			velocity        Nullable(Float64),
			true_track      Nullable(Float64),
			vertical_rate   Nullable(Float64),
			on_ground       UInt8,
			data_source     LowCardinality(String),
			source_priority Int32
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMMDD(ts)
		ORDER BY (icao24, ts)
		TTL ts + INTERVAL 90 DAY`)
	if err != nil {
		return fmt.Errorf("store: clickhouse schema: %w", err)
	}
	return nil
}

// Write buffers one row. Never blocks on the network.
func (c *ClickHouse) Write(ctx context.Context, st model.AircraftState) error {
	if !st.HasPosition() {
		return nil
	}
	c.mu.Lock()
	c.buf = append(c.buf, st)
	full := len(c.buf) >= chFlushBatch
	c.mu.Unlock()
	if full {
		c.flush()
	}
	return nil
}

func (c *ClickHouse) runFlusher() {
	defer close(c.done)
	ticker := time.NewTicker(chFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			c.flush()
			return
		case <-ticker.C:
			c.flush()
		}
	}
}

func (c *ClickHouse) flush() {
	c.mu.Lock()
	batch := c.buf
	c.buf = nil
	c.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO aircraft_state_history
		(icao24, ts, latitude, longitude, baro_altitude, velocity, true_track,
		 vertical_rate, on_ground, data_source, source_priority)`)
	if err != nil {
		logging.Error("store: clickhouse prepare batch", zap.Error(err), zap.Int("dropped", len(batch)))
		return
	}
	for _, st := range batch {
		onGround := uint8(0)
		if st.OnGround {
			onGround = 1
		}
		if err := b.Append(
			st.Icao24, time.Unix(st.LastContact, 0),
			*st.Latitude, *st.Longitude,
			st.BaroAltitude, st.Velocity, st.TrueTrack, st.VerticalRate,
			onGround, string(st.DataSource), int32(st.SourcePriority),
		); err != nil {
			logging.Error("store: clickhouse append", zap.Error(err))
			return
		}
	}
	if err := b.Send(); err != nil {
		logging.Error("store: clickhouse send", zap.Error(err), zap.Int("dropped", len(batch)))
		return
	}
	logging.Debug("store: clickhouse flushed", zap.Int("rows", len(batch)))
}

func (c *ClickHouse) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
		<-c.done
	})
	return c.conn.Close()
}
