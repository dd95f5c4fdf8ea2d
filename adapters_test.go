package mdarunner

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// legacyThreeArity exposes every legacy method at the widest arity the
// adapter tries first.
type legacyThreeArity struct {
	frameCalls int
	lastImage  Image
	lastEvent  Event
	lastMeta   map[string]any
}

func (l *legacyThreeArity) FrameReady(image Image, event Event, meta map[string]any) error {
	l.frameCalls++
	l.lastImage, l.lastEvent, l.lastMeta = image, event, meta
	return nil
}

// legacyOneArity only exposes FrameReady(image), forcing the adapter to
// fall back from 3 args down to 1.
type legacyOneArity struct {
	frameCalls int
	lastImage  Image
}

func (l *legacyOneArity) FrameReady(image Image) error {
	l.frameCalls++
	l.lastImage = image
	return nil
}

// legacyZeroArity only exposes a no-argument SequenceStarted.
type legacyZeroArity struct {
	started int
}

func (l *legacyZeroArity) SequenceStarted() error {
	l.started++
	return nil
}

// legacyFailing returns an error from its widest-arity method.
type legacyFailing struct{}

func (l *legacyFailing) FrameReady(image Image, event Event, meta map[string]any) error {
	return errFakeFrame
}

func TestLegacyAdapterUsesWidestMatchingArity(t *testing.T) {
	target := &legacyThreeArity{}
	a := &legacyAdapter{target: target, cached: make(map[string]int)}

	err := a.Frame(42, fakeEvent{}, map[string]any{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, 1, target.frameCalls)
	assert.Equal(t, Image(42), target.lastImage)
	assert.Equal(t, map[string]any{"k": "v"}, target.lastMeta)
}

func TestLegacyAdapterFallsBackToNarrowerArity(t *testing.T) {
	target := &legacyOneArity{}
	a := &legacyAdapter{target: target, cached: make(map[string]int)}

	err := a.Frame(7, fakeEvent{}, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 1, target.frameCalls)
	assert.Equal(t, Image(7), target.lastImage)

	// The resolved arity is cached and reused on a second call.
	require.NoError(t, a.Frame(8, fakeEvent{}, nil))
	assert.Equal(t, 2, target.frameCalls)
	assert.Equal(t, Image(8), target.lastImage)
}

func TestLegacyAdapterZeroArityMethod(t *testing.T) {
	target := &legacyZeroArity{}
	a := &legacyAdapter{target: target, cached: make(map[string]int)}

	require.NoError(t, a.Setup(nil, nil))
	assert.Equal(t, 1, target.started)
}

func TestLegacyAdapterMissingMethodIsNoop(t *testing.T) {
	target := &legacyZeroArity{}
	a := &legacyAdapter{target: target, cached: make(map[string]int)}

	// legacyZeroArity has no FrameReady at all.
	require.NoError(t, a.Frame(1, fakeEvent{}, nil))
}

func TestLegacyAdapterPropagatesTargetError(t *testing.T) {
	target := &legacyFailing{}
	a := &legacyAdapter{target: target, cached: make(map[string]int)}

	err := a.Frame(1, fakeEvent{}, nil)
	assert.ErrorIs(t, err, errFakeFrame)
}

func TestNewLegacyConsumerSpecRejectsNilTarget(t *testing.T) {
	_, err := NewLegacyConsumerSpec("legacy", nil)
	assert.ErrorIs(t, err, ErrLegacyHandlerNil)
}

func TestNewLegacyConsumerSpecBuildsCriticalSpec(t *testing.T) {
	spec, err := NewLegacyConsumerSpec("legacy", &legacyThreeArity{})
	require.NoError(t, err)
	assert.Equal(t, "legacy", spec.Name)
	assert.True(t, spec.Critical)
}

func TestCoerceOutputPathDispatchesByExtension(t *testing.T) {
	built := false
	registry := map[string]WriterFactory{
		".tif": func(path string) (Consumer, error) {
			built = true
			return newFakeConsumer(), nil
		},
	}

	spec, err := CoerceOutputPath("/tmp/run1.tif", registry)
	require.NoError(t, err)
	assert.True(t, built)
	assert.Equal(t, "/tmp/run1.tif", spec.Name)
	assert.True(t, spec.Critical)
}

func TestCoerceOutputPathUnknownExtension(t *testing.T) {
	_, err := CoerceOutputPath("/tmp/run1.unknown", map[string]WriterFactory{})
	assert.ErrorIs(t, err, ErrUnknownOutputExt)
}

func TestCoerceOutputPathPropagatesFactoryError(t *testing.T) {
	wantErr := errors.New("disk full")
	registry := map[string]WriterFactory{
		".tif": func(path string) (Consumer, error) { return nil, wantErr },
	}
	_, err := CoerceOutputPath("/tmp/run1.tif", registry)
	assert.ErrorIs(t, err, wantErr)
}
