package scanner

import (
	"context"
	"testing"
	"time"

	"github.com/skytrack/skytrack/internal/governor"
	"github.com/skytrack/skytrack/internal/model"
	"github.com/skytrack/skytrack/internal/queue"
)

type fakeFetcher struct {
	calls  []Anchor
	states []model.AircraftState
}

func (f *fakeFetcher) FetchPoint(ctx context.Context, lat, lon, radiusNM float64) []model.AircraftState {
	f.calls = append(f.calls, Anchor{Lat: lat, Lon: lon})
	return f.states
}

func scanState(icao string) model.AircraftState {
	st := model.AircraftState{
		Icao24:      icao,
		Latitude:    model.Float(40.0),
		Longitude:   model.Float(-100.0),
		LastContact: time.Now().Unix(),
		DataSource:  model.SourceCommercialNetwork,
	}
	st.Normalize()
	return st
}

func TestStepRoundRobin(t *testing.T) {
	f := &fakeFetcher{}
	q := queue.NewMemory[model.QueueMessage](0)
	defer q.Close()
	s := New(f, "commercial-network", governor.New(), q, 1, 250)

	for i := 0; i < len(conusAnchors)+2; i++ {
		s.step(context.Background())
	}
	if len(f.calls) != len(conusAnchors)+2 {
		t.Fatalf("calls = %d", len(f.calls))
	}
	// Rotation wraps back to the first anchor.
	if f.calls[len(conusAnchors)].Lat != conusAnchors[0].Lat {
		t.Errorf("rotation did not wrap: %+v", f.calls[len(conusAnchors)])
	}
}

func TestStepEnqueuesSkippingHistory(t *testing.T) {
	f := &fakeFetcher{states: []model.AircraftState{scanState("a1b2c3"), scanState("ddeeff")}}
	q := queue.NewMemory[model.QueueMessage](0)
	defer q.Close()
	s := New(f, "commercial-network", governor.New(), q, 1, 250)

	if paused := s.step(context.Background()); paused {
		t.Fatal("healthy step reported pause")
	}
	for i := 0; i < 2; i++ {
		msg, err := q.Pop(context.Background(), time.Second)
		if err != nil {
			t.Fatalf("pop: %v", err)
		}
		if !msg.SkipHistory {
			t.Error("scan snapshot enqueued with history")
		}
		if msg.SourcePriority != 20 {
			t.Errorf("source priority = %d, want 20", msg.SourcePriority)
		}
	}
}

func TestStepPausesOnBackpressure(t *testing.T) {
	states := make([]model.AircraftState, 3)
	for i, icao := range []string{"a1a1a1", "b2b2b2", "c3c3c3"} {
		states[i] = scanState(icao)
	}
	f := &fakeFetcher{states: states}
	q := queue.NewMemory[model.QueueMessage](1)
	defer q.Close()
	s := New(f, "commercial-network", governor.New(), q, 1, 250)

	if paused := s.step(context.Background()); !paused {
		t.Error("over-high-water step did not pause")
	}
	depth, _ := q.Depth(context.Background())
	if depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}
}

func TestPerAnchorFailureDoesNotStall(t *testing.T) {
	// An empty fetch (provider error handled inside the adapter) advances
	// the rotation anyway.
	f := &fakeFetcher{}
	q := queue.NewMemory[model.QueueMessage](0)
	defer q.Close()
	s := New(f, "commercial-network", governor.New(), q, 1, 250)

	s.step(context.Background())
	s.step(context.Background())
	if s.next != 2 {
		t.Errorf("next = %d, want 2", s.next)
	}
}
