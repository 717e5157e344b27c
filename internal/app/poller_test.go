package app

import (
	"context"
	"testing"
	"time"

	"github.com/skytrack/skytrack/internal/model"
	"github.com/skytrack/skytrack/internal/queue"
)

func pollState(icao string) model.AircraftState {
	st := model.AircraftState{
		Icao24:      icao,
		Latitude:    model.Float(40.0),
		Longitude:   model.Float(-74.0),
		LastContact: time.Now().Unix(),
		DataSource:  model.SourceFreeNetwork,
	}
	st.Normalize()
	return st
}

func TestPollEnqueuesSweep(t *testing.T) {
	q := queue.NewMemory[model.QueueMessage](0)
	defer q.Close()
	p := newPoller("opensky", 0, func(ctx context.Context) []model.AircraftState {
		return []model.AircraftState{pollState("a1b2c3"), pollState("ddeeff")}
	}, q)
	if p.interval != defaultPollInterval {
		t.Errorf("interval = %v, want default", p.interval)
	}

	p.poll(context.Background())
	if depth, _ := q.Depth(context.Background()); depth != 2 {
		t.Fatalf("depth = %d, want 2", depth)
	}
	msg, err := q.Pop(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if msg.SkipHistory {
		t.Error("bulk polls must keep history")
	}
	if msg.Source != model.SourceFreeNetwork {
		t.Errorf("source = %s", msg.Source)
	}
}

func TestPollStopsOnBackpressure(t *testing.T) {
	q := queue.NewMemory[model.QueueMessage](1)
	defer q.Close()
	p := newPoller("opensky", time.Second, func(ctx context.Context) []model.AircraftState {
		return []model.AircraftState{pollState("a1b2c3"), pollState("ddeeff"), pollState("aabbcc")}
	}, q)

	p.poll(context.Background())
	if depth, _ := q.Depth(context.Background()); depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}
}
