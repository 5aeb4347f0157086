package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDial = NewTransportError("wfs.example", 0, errors.New("dial tcp: i/o timeout"))

func fail(_ context.Context) (struct{}, error) { return struct{}{}, errDial }

func do(b *Breaker, fn func(context.Context) (struct{}, error)) error {
	_, err := Call(context.Background(), b, fn)
	return err
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	bs := NewBreakers(BreakerConfigFrom(3, 60))
	b := bs.For("wfs.example")

	for i := 0; i < 3; i++ {
		require.Error(t, do(b, fail))
	}
	assert.Equal(t, Open, b.State())

	called := false
	err := do(b, func(_ context.Context) (struct{}, error) {
		called = true
		return struct{}{}, nil
	})
	assert.False(t, called)
	assert.True(t, errors.Is(err, ErrOpen))
	assert.True(t, IsTransport(err))
}

func TestBreaker_NonTransportErrorsDoNotTrip(t *testing.T) {
	b := NewBreakers(BreakerConfigFrom(2, 60)).For("wfs.example")
	rejected := errors.New("ExceptionReport: unknown typename")

	for i := 0; i < 5; i++ {
		assert.Equal(t, rejected, do(b, func(_ context.Context) (struct{}, error) { return struct{}{}, rejected }))
	}
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	var transitions []string
	cfg := BreakerConfigFrom(1, 10)
	cfg.OnStateChange = func(host string, from, to State) {
		transitions = append(transitions, host+":"+from.String()+"->"+to.String())
	}
	b := NewBreakers(cfg).For("prg")

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }

	require.Error(t, do(b, fail))
	assert.Equal(t, Open, b.State())

	now = now.Add(11 * time.Second)
	assert.Equal(t, HalfOpen, b.State())

	v, err := Call(context.Background(), b, func(_ context.Context) (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, Closed, b.State())

	assert.Equal(t, []string{"prg:closed->open", "prg:open->half-open", "prg:half-open->closed"}, transitions)
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewBreakers(BreakerConfigFrom(1, 10)).For("prg")
	now := time.Now()
	b.now = func() time.Time { return now }

	require.Error(t, do(b, fail))
	now = now.Add(time.Minute)
	require.Error(t, do(b, fail))
	assert.Equal(t, Open, b.State())
}

func TestBreakers_ForIsStablePerHost(t *testing.T) {
	bs := NewBreakers(BreakerConfigFrom(0, 0))

	var wg sync.WaitGroup
	got := make([]*Breaker, 20)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = bs.For("integracja.gugik.gov.pl")
		}(i)
	}
	wg.Wait()

	for _, b := range got {
		assert.Same(t, got[0], b)
	}
	assert.NotSame(t, got[0], bs.For("mapy.geoportal.gov.pl"))
	assert.Len(t, bs.States(), 2)
	assert.Equal(t, 5, got[0].cfg.FailureThreshold)
	assert.Equal(t, 30*time.Second, got[0].cfg.ResetTimeout)
}

func TestBreaker_CancelledCallsAreNotCounted(t *testing.T) {
	b := NewBreakers(BreakerConfigFrom(2, 60)).For("wfs.example")
	cancelled := NewTransportError("wfs.example", 0, context.Canceled)

	for i := 0; i < 5; i++ {
		require.Error(t, do(b, func(_ context.Context) (struct{}, error) { return struct{}{}, cancelled }))
	}
	assert.Equal(t, Closed, b.State())

	require.Error(t, do(b, fail))
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_HalfOpenAdmitsOneTrial(t *testing.T) {
	b := NewBreakers(BreakerConfigFrom(1, 10)).For("prg")
	now := time.Now()
	b.now = func() time.Time { return now }

	require.Error(t, do(b, fail))
	now = now.Add(time.Minute)

	inTrial := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- do(b, func(_ context.Context) (struct{}, error) {
			close(inTrial)
			<-release
			return struct{}{}, nil
		})
	}()
	<-inTrial

	err := do(b, func(_ context.Context) (struct{}, error) {
		t.Error("second call admitted during the trial")
		return struct{}{}, nil
	})
	assert.True(t, errors.Is(err, ErrOpen))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, Closed, b.State())
	require.NoError(t, do(b, func(_ context.Context) (struct{}, error) { return struct{}{}, nil }))
}

func TestBreaker_CancelledTrialFreesSlot(t *testing.T) {
	b := NewBreakers(BreakerConfigFrom(1, 10)).For("prg")
	now := time.Now()
	b.now = func() time.Time { return now }

	require.Error(t, do(b, fail))
	now = now.Add(time.Minute)

	require.Error(t, do(b, func(_ context.Context) (struct{}, error) { return struct{}{}, context.Canceled }))
	assert.Equal(t, HalfOpen, b.State())
	require.NoError(t, do(b, func(_ context.Context) (struct{}, error) { return struct{}{}, nil }))
	assert.Equal(t, Closed, b.State())
}
