package mdarunner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherHappyPath(t *testing.T) {
	ctx := context.Background()
	policy := testPolicy()
	d := NewDispatcher(policy, nil, 0)

	a := newFakeConsumer()
	b := newFakeConsumer()
	d.AddConsumer(ConsumerSpec{Name: "a", Consumer: a, Critical: true})
	d.AddConsumer(ConsumerSpec{Name: "b", Consumer: b, Critical: false})

	require.NoError(t, d.Start(ctx, nil, nil))
	for i := 0; i < 5; i++ {
		require.NoError(t, d.Submit(Frame{Image: i}))
	}

	report, err := d.Close(ctx, nil, StatusCompleted)
	require.NoError(t, err)
	require.Len(t, report.ConsumerReports, 2)
	for _, cr := range report.ConsumerReports {
		assert.Equal(t, int64(5), cr.Submitted)
		assert.Equal(t, int64(5), cr.Processed)
	}
	assert.Equal(t, 1, a.setups)
	assert.Equal(t, 1, a.finishes)
}

func TestDispatcherSetupFailureCriticalRaiseExcludesAndFails(t *testing.T) {
	ctx := context.Background()
	policy := testPolicy()
	policy.CriticalError = CriticalRaise
	d := NewDispatcher(policy, nil, 0)

	bad := newFakeConsumer()
	bad.setupErr = errFakeFrame
	d.AddConsumer(ConsumerSpec{Name: "bad", Consumer: bad, Critical: true})

	require.NoError(t, d.Start(ctx, nil, nil))
	// no worker spawned for "bad"; submit should be a no-op, not an error
	require.NoError(t, d.Submit(Frame{}))

	_, err := d.Close(ctx, nil, StatusFailed)
	assert.ErrorIs(t, err, ErrConsumerSetupFailed)
	// Finish is still called for every registered spec, including failed setups.
	assert.Equal(t, 1, bad.finishes)
}

func TestDispatcherNonCriticalLogRetainsConsumer(t *testing.T) {
	ctx := context.Background()
	policy := testPolicy()
	d := NewDispatcher(policy, nil, 0)

	flaky := newFakeConsumer()
	flaky.setupErr = errFakeFrame
	d.AddConsumer(ConsumerSpec{Name: "flaky", Consumer: flaky, Critical: false})

	require.NoError(t, d.Start(ctx, nil, nil))
	require.NoError(t, d.Submit(Frame{Image: 1}))

	report, err := d.Close(ctx, nil, StatusCompleted)
	require.NoError(t, err)
	require.Len(t, report.ConsumerReports, 1)
	assert.Equal(t, int64(1), report.ConsumerReports[0].Processed)
}

func TestDispatcherSubmitAfterCloseReturnsClosedError(t *testing.T) {
	ctx := context.Background()
	d := NewDispatcher(testPolicy(), nil, 0)

	consumer := newFakeConsumer()
	d.AddConsumer(ConsumerSpec{Name: "sink", Consumer: consumer, Critical: true})
	require.NoError(t, d.Start(ctx, nil, nil))
	require.NoError(t, d.Submit(Frame{Image: 0}))

	_, err := d.Close(ctx, nil, StatusCompleted)
	require.NoError(t, err)

	assert.ErrorIs(t, d.Submit(Frame{Image: 1}), ErrDispatcherClosed)
}

func TestDispatcherCloseWithinJoinTimeoutReportsNoStalls(t *testing.T) {
	ctx := context.Background()
	policy := testPolicy()
	d := NewDispatcher(policy, nil, 10*time.Millisecond)

	consumer := newFakeConsumer()
	d.AddConsumer(ConsumerSpec{Name: "quick", Consumer: consumer, Critical: true})
	require.NoError(t, d.Start(ctx, nil, nil))

	report, err := d.Close(ctx, nil, StatusCompleted)
	require.NoError(t, err)
	assert.Empty(t, report.Stalled)
}
