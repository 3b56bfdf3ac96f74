package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fail() (interface{}, error) { return nil, errBoom }

func ok() (interface{}, error) { return "ok", nil }

func TestBreaker_TripsAndRecovers(t *testing.T) {
	now := time.Now()
	var transitions []string
	cb := New(2, 1, time.Second,
		WithClock(func() time.Time { return now }),
		WithStateChange(func(from, to State) { transitions = append(transitions, from.String()+"->"+to.String()) }),
	)

	_, err := cb.Execute(fail)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, Closed, cb.State())

	_, err = cb.Execute(fail)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, Open, cb.State())

	_, err = cb.Execute(ok)
	assert.ErrorIs(t, err, ErrCircuitOpen)

	now = now.Add(2 * time.Second)
	res, err := cb.Execute(ok)
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, Closed, cb.State())

	assert.Equal(t, []string{"Closed->Open", "Open->Half-Open", "Half-Open->Closed"}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := New(1, 2, time.Second, WithClock(func() time.Time { return now }))

	_, _ = cb.Execute(fail)
	require.Equal(t, Open, cb.State())

	now = now.Add(2 * time.Second)
	_, _ = cb.Execute(fail)
	assert.Equal(t, Open, cb.State())
}

func TestBreaker_FailurePredicate(t *testing.T) {
	ignored := errors.New("client error")
	cb := New(1, 1, time.Minute, WithFailurePredicate(func(err error) bool {
		return !errors.Is(err, ignored)
	}))

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, ignored })
		assert.ErrorIs(t, err, ignored)
	}
	assert.Equal(t, Closed, cb.State())

	_, _ = cb.Execute(fail)
	assert.Equal(t, Open, cb.State())
}
