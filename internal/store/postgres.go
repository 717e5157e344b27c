package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/skytrack/skytrack/internal/config"
	"github.com/skytrack/skytrack/internal/logging"
	"github.com/skytrack/skytrack/internal/model"
)

// Postgres is the production Store and HistoryStore.
type Postgres struct {
	pool        *pgxpool.Pool
	staleAfter  int64 // seconds
	graceWindow int64 // seconds
	now         func() time.Time
}

// NewPostgres connects a pool and verifies it with a ping.
func NewPostgres(ctx context.Context, cfg config.PostgresConfig, queryCfg config.QueryConfig) (*Postgres, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database)
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}

	staleAfter := int64(queryCfg.StaleAfterSeconds)
	if staleAfter <= 0 {
		staleAfter = int64(DefaultStaleAfter / time.Second)
	}
	return &Postgres{
		pool:        pool,
		staleAfter:  staleAfter,
		graceWindow: int64(DefaultGraceWindow / time.Second),
		now:         time.Now,
	}, nil
}

// EnsureSchema creates the tables and indexes. The history table is promoted
// to a hypertable when the timescaledb extension is present; a plain table
// works the same, just slower on range scans.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS aircraft_states (
			icao24              text PRIMARY KEY,
			callsign            text,
			registration        text,
			latitude            double precision NOT NULL,
			longitude           double precision NOT NULL,
			baro_altitude       double precision,
			geo_altitude        double precision,
			velocity            double precision,
			true_track          double precision,
			vertical_rate       double precision,
			on_ground           boolean NOT NULL DEFAULT false,
			squawk              text,
			emergency_status    text,
			category            integer,
			aircraft_type       text,
			aircraft_desc       text,
			data_source         text NOT NULL,
			source_priority     integer NOT NULL,
			time_position       bigint,
			last_contact        bigint NOT NULL,
			ingestion_timestamp bigint,
			updated_at          timestamptz NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS aircraft_states_pos_idx
			ON aircraft_states (latitude, longitude)`,
		`CREATE INDEX IF NOT EXISTS aircraft_states_last_contact_idx
			ON aircraft_states (last_contact)`,
		`CREATE INDEX IF NOT EXISTS aircraft_states_callsign_idx
			ON aircraft_states (callsign) WHERE callsign IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS aircraft_state_history (
			icao24          text NOT NULL,
			created_at      timestamptz NOT NULL DEFAULT now(),
			latitude        double precision NOT NULL,
			longitude       double precision NOT NULL,
			baro_altitude   double precision,
			velocity        double precision,
			true_track      double precision,
			vertical_rate   double precision,
			on_ground       boolean NOT NULL DEFAULT false,
			data_source     text NOT NULL,
			source_priority integer NOT NULL,
			last_contact    bigint NOT NULL,
			PRIMARY KEY (icao24, created_at)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: ensure schema: %w", err)
		}
	}

	if _, err := p.pool.Exec(ctx,
		`SELECT create_hypertable('aircraft_state_history', 'created_at', if_not_exists => TRUE)`); err != nil {
		logging.Debug("store: timescaledb unavailable, history stays a plain table", zap.Error(err))
	}
	return nil
}

const stateColumns = `icao24, callsign, registration, latitude, longitude,
	baro_altitude, geo_altitude, velocity, true_track, vertical_rate,
	on_ground, squawk, emergency_status, category, aircraft_type,
	aircraft_desc, data_source, source_priority, time_position,
	last_contact, ingestion_timestamp`

// Upsert applies the merge contract in one statement:
//  1. no row: insert
//  2. more trusted (lower priority number): replace
//  3. equal trust: replace when not older
//  4. less trusted: replace only a stale row, or with a clearly newer contact
func (p *Postgres) Upsert(ctx context.Context, st model.AircraftState) (bool, error) {
	if !st.HasPosition() {
		return false, fmt.Errorf("store: %s has no position", st.Icao24)
	}
	nowSec := p.now().Unix()

	tag, err := p.pool.Exec(ctx, `
		INSERT INTO aircraft_states (`+stateColumns+`, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21, now())
		ON CONFLICT (icao24) DO UPDATE SET
			callsign = EXCLUDED.callsign,
			registration = COALESCE(NULLIF(EXCLUDED.registration, ''), aircraft_states.registration),
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			baro_altitude = EXCLUDED.baro_altitude,
			geo_altitude = EXCLUDED.geo_altitude,
			velocity = EXCLUDED.velocity,
			true_track = EXCLUDED.true_track,
			vertical_rate = EXCLUDED.vertical_rate,
			on_ground = EXCLUDED.on_ground,
			squawk = EXCLUDED.squawk,
			emergency_status = EXCLUDED.emergency_status,
			category = EXCLUDED.category,
			aircraft_type = COALESCE(NULLIF(EXCLUDED.aircraft_type, ''), aircraft_states.aircraft_type),
			aircraft_desc = COALESCE(NULLIF(EXCLUDED.aircraft_desc, ''), aircraft_states.aircraft_desc),
			data_source = EXCLUDED.data_source,
			source_priority = EXCLUDED.source_priority,
			time_position = EXCLUDED.time_position,
			last_contact = EXCLUDED.last_contact,
			ingestion_timestamp = EXCLUDED.ingestion_timestamp,
			updated_at = now()
		WHERE EXCLUDED.source_priority < aircraft_states.source_priority
		   OR (EXCLUDED.source_priority = aircraft_states.source_priority
		       AND EXCLUDED.last_contact >= aircraft_states.last_contact)
		   OR (EXCLUDED.source_priority > aircraft_states.source_priority
		       AND (aircraft_states.last_contact < $22
		            OR EXCLUDED.last_contact > aircraft_states.last_contact + $23))`,
		st.Icao24, nullStr(st.Callsign), nullStr(st.Registration),
		*st.Latitude, *st.Longitude,
		st.BaroAltitude, st.GeoAltitude, st.Velocity, st.TrueTrack, st.VerticalRate,
		st.OnGround, nullStr(st.Squawk), nullStr(st.EmergencyStatus), st.Category,
		nullStr(st.AircraftType), nullStr(st.AircraftDesc),
		string(st.DataSource), st.SourcePriority, st.TimePosition,
		st.LastContact, st.IngestionTimestamp,
		nowSec-p.staleAfter, p.graceWindow,
	)
	if err != nil {
		return false, fmt.Errorf("store: upsert %s: %w", st.Icao24, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) Get(ctx context.Context, icao24 string) (*model.AircraftState, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+stateColumns+` FROM aircraft_states WHERE icao24 = $1`, icao24)
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", icao24, err)
	}
	states, err := scanStates(rows)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, ErrNotFound
	}
	return &states[0], nil
}

func (p *Postgres) GetByCallsign(ctx context.Context, callsign string) (*model.AircraftState, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+stateColumns+` FROM aircraft_states
		 WHERE callsign = $1 ORDER BY last_contact DESC LIMIT 1`, callsign)
	if err != nil {
		return nil, fmt.Errorf("store: get callsign %s: %w", callsign, err)
	}
	states, err := scanStates(rows)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, ErrNotFound
	}
	return &states[0], nil
}

func (p *Postgres) FindInBounds(ctx context.Context, latMin, lonMin, latMax, lonMax float64, minLastContact int64) ([]model.AircraftState, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+stateColumns+` FROM aircraft_states
		 WHERE latitude BETWEEN $1 AND $2
		   AND longitude BETWEEN $3 AND $4
		   AND last_contact >= $5`,
		latMin, latMax, lonMin, lonMax, minLastContact)
	if err != nil {
		return nil, fmt.Errorf("store: find in bounds: %w", err)
	}
	return scanStates(rows)
}

func (p *Postgres) Recent(ctx context.Context, since int64, limit int) ([]model.AircraftState, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+stateColumns+` FROM aircraft_states
		 WHERE last_contact >= $1 ORDER BY last_contact DESC LIMIT $2`,
		since, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	return scanStates(rows)
}

// AppendHistory is best-effort by contract: a duplicate (icao24, created_at)
// is logged at debug and swallowed so the accepted upsert stands.
func (p *Postgres) AppendHistory(ctx context.Context, st model.AircraftState) error {
	if !st.HasPosition() {
		return nil
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO aircraft_state_history
			(icao24, created_at, latitude, longitude, baro_altitude, velocity,
			 true_track, vertical_rate, on_ground, data_source, source_priority, last_contact)
		VALUES ($1, to_timestamp($2), $3, $4, $5, $6, $7, $8, $9, $10, $11, $2)`,
		st.Icao24, st.LastContact, *st.Latitude, *st.Longitude,
		st.BaroAltitude, st.Velocity, st.TrueTrack, st.VerticalRate,
		st.OnGround, string(st.DataSource), st.SourcePriority,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			logging.Debug("store: duplicate history row skipped",
				zap.String("icao24", st.Icao24), zap.Int64("last_contact", st.LastContact))
			return nil
		}
		return fmt.Errorf("store: append history %s: %w", st.Icao24, err)
	}
	return nil
}

func (p *Postgres) History(ctx context.Context, icao24 string, from, to time.Time) ([]model.AircraftState, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT icao24, latitude, longitude, baro_altitude, velocity, true_track,
		       vertical_rate, on_ground, data_source, source_priority, last_contact
		FROM aircraft_state_history
		WHERE icao24 = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at ASC`,
		icao24, from, to)
	if err != nil {
		return nil, fmt.Errorf("store: history %s: %w", icao24, err)
	}
	defer rows.Close()

	var out []model.AircraftState
	for rows.Next() {
		var st model.AircraftState
		var lat, lon float64
		var source string
		if err := rows.Scan(&st.Icao24, &lat, &lon, &st.BaroAltitude, &st.Velocity,
			&st.TrueTrack, &st.VerticalRate, &st.OnGround, &source,
			&st.SourcePriority, &st.LastContact); err != nil {
			return nil, fmt.Errorf("store: scan history: %w", err)
		}
		st.Latitude, st.Longitude = &lat, &lon
		st.DataSource = model.DataSource(source)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (p *Postgres) Close() { p.pool.Close() }

// Pool exposes the connection pool so other Postgres-backed components share
// one set of connections.
func (p *Postgres) Pool() *pgxpool.Pool { return p.pool }

// scanStates drains a full-column result set.
func scanStates(rows pgx.Rows) ([]model.AircraftState, error) {
	defer rows.Close()
	var out []model.AircraftState
	for rows.Next() {
		var st model.AircraftState
		var lat, lon float64
		var callsign, registration, squawk, emergency, acType, acDesc *string
		var source string
		if err := rows.Scan(&st.Icao24, &callsign, &registration, &lat, &lon,
			&st.BaroAltitude, &st.GeoAltitude, &st.Velocity, &st.TrueTrack, &st.VerticalRate,
			&st.OnGround, &squawk, &emergency, &st.Category, &acType, &acDesc,
			&source, &st.SourcePriority, &st.TimePosition,
			&st.LastContact, &st.IngestionTimestamp); err != nil {
			return nil, fmt.Errorf("store: scan state: %w", err)
		}
		st.Latitude, st.Longitude = &lat, &lon
		st.Callsign = deref(callsign)
		st.Registration = deref(registration)
		st.Squawk = deref(squawk)
		st.EmergencyStatus = deref(emergency)
		st.AircraftType = deref(acType)
		st.AircraftDesc = deref(acDesc)
		st.DataSource = model.DataSource(source)
		out = append(out, st)
	}
	return out, rows.Err()
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
