package chaos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookrental/internal/circulation"
	"bookrental/internal/store"
	"bookrental/internal/store/memory"
)

func newTarget(t *testing.T) *Target {
	t.Helper()
	mem, err := memory.New()
	require.NoError(t, err)
	db := NewFaultyDB(mem)
	target, err := NewTarget(context.Background(), db, circulation.NewService(db))
	require.NoError(t, err)
	return target
}

func TestThreshold(t *testing.T) {
	tests := []struct {
		op    string
		value float64
		want  bool
	}{
		{">", 2, true},
		{">", 1, false},
		{"<", 0, true},
		{">=", 1, true},
		{"<=", 2, false},
		{"==", 1, true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Threshold{Operator: tt.op, Value: 1}.Holds(tt.value), "%v %s 1", tt.value, tt.op)
	}
}

func TestFaultyDB(t *testing.T) {
	mem, err := memory.New()
	require.NoError(t, err)
	db := NewFaultyDB(mem)
	ctx := context.Background()
	noop := func(context.Context, store.Tx) error { return nil }

	require.NoError(t, db.InTx(ctx, noop))

	db.SetFailureRate(1)
	err = db.InTx(ctx, noop)
	assert.ErrorIs(t, err, store.ErrStorage)
	assert.ErrorIs(t, err, ErrInjected)
	assert.ErrorIs(t, db.Ping(ctx), ErrInjected)

	db.Heal()
	db.SetLatency(time.Hour)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	err = db.InTx(ctx, noop)
	assert.True(t, store.IsTimeout(err), "got %v", err)
}

func TestReservationRaceHolds(t *testing.T) {
	target := newTarget(t)
	ctx := context.Background()
	exp, err := target.ReservationRace(ctx, 20, 3)
	require.NoError(t, err)
	exp.Duration = 50 * time.Millisecond
	exp.Interval = 10 * time.Millisecond

	engine := NewEngine(nil)
	res, err := engine.Run(ctx, exp)
	require.NoError(t, err)
	assert.True(t, res.SteadyStateValid)
	assert.True(t, res.HypothesisHeld, "violations: %+v", res.Violations)
	assert.Empty(t, res.ErrorEvents)
	assert.Len(t, engine.Results(), 1)
}

func TestStorageOutageRecovers(t *testing.T) {
	target := newTarget(t)
	ctx := context.Background()
	exp, err := target.StorageOutage(ctx)
	require.NoError(t, err)
	exp.Duration = 60 * time.Millisecond
	exp.Interval = 10 * time.Millisecond

	res, err := NewEngine(nil).Run(ctx, exp)
	require.NoError(t, err)
	assert.True(t, res.HypothesisHeld, "bookings recover once storage heals")

	var outageSeen bool
	for _, v := range res.Violations {
		if v.Gauge == "booking_success_rate" {
			outageSeen = true
		}
		assert.NotEqual(t, "ledger_drift", v.Gauge, "the outage must not leak copies")
	}
	assert.True(t, outageSeen, "bookings fail during the outage")
}

func TestSteadyStateAbort(t *testing.T) {
	exp := Experiment{
		Name: "broken",
		SteadyState: []Gauge{{
			Name:      "always_failing",
			Query:     func(context.Context) (float64, error) { return 0, errors.New("gauge down") },
			Threshold: Threshold{Operator: "==", Value: 0},
		}},
		Method: []Action{{Execute: func(context.Context) error {
			t.Fatal("method must not run when the steady state is invalid")
			return nil
		}}},
	}
	res, err := NewEngine(nil).Run(context.Background(), exp)
	assert.ErrorIs(t, err, ErrSteadyStateInvalid)
	assert.False(t, res.SteadyStateValid)
	require.Len(t, res.ErrorEvents, 1)
	assert.Equal(t, "always_failing", res.ErrorEvents[0].Component)
}

func TestGameDay(t *testing.T) {
	target := newTarget(t)
	ctx := context.Background()
	race, err := target.ReservationRace(ctx, 5, 1)
	require.NoError(t, err)
	latency, err := target.StorageLatency(ctx, time.Millisecond, time.Second)
	require.NoError(t, err)
	for _, exp := range []*Experiment{&race, &latency} {
		exp.Duration = 30 * time.Millisecond
		exp.Interval = 10 * time.Millisecond
	}

	engine := NewEngine(nil)
	engine.Register(race, latency)
	held, err := engine.ExecuteGameDay(ctx, GameDay{Name: "test", Date: time.Now(), Scenarios: engine.Experiments()})
	require.NoError(t, err)
	assert.Equal(t, 2, held)
}
