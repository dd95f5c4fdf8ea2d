package mdarunner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRunPolicy(t *testing.T) {
	p := DefaultRunPolicy()
	require.NoError(t, p.Validate())
	assert.Equal(t, CriticalRaise, p.CriticalError)
	assert.Equal(t, NonCriticalLog, p.NonCriticalError)
	assert.Equal(t, BackpressureBlock, p.Backpressure)
	assert.Equal(t, 256, p.CriticalQueue)
	assert.Equal(t, 256, p.ObserverQueue)
}

func TestRunPolicyValidateFillsZeroFields(t *testing.T) {
	p := RunPolicy{}
	require.NoError(t, p.Validate())
	assert.Equal(t, DefaultRunPolicy(), p)
}

func TestRunPolicyValidateRejectsUnknownEnums(t *testing.T) {
	cases := []RunPolicy{
		{CriticalError: "BOGUS"},
		{NonCriticalError: "BOGUS"},
		{Backpressure: "BOGUS"},
	}
	for _, p := range cases {
		err := p.Validate()
		assert.Error(t, err)
	}
}

func TestRunPolicyValidateRejectsNonPositiveQueues(t *testing.T) {
	p := RunPolicy{CriticalQueue: -1}
	assert.ErrorIs(t, p.Validate(), ErrInvalidQueueCapacity)
}

func TestQueueCapacity(t *testing.T) {
	p := RunPolicy{CriticalQueue: 10, ObserverQueue: 20}
	assert.Equal(t, 10, p.queueCapacity(true))
	assert.Equal(t, 20, p.queueCapacity(false))
}
