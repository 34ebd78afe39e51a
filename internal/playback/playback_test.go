package playback_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meff-network/meff/internal/playback"
)

func TestPlayFromIdle(t *testing.T) {
	sink := &playback.NullSink{}
	m := playback.New(sink)

	require.False(t, m.Playing())
	require.NoError(t, m.Play("song", []byte("data")))
	require.True(t, m.Playing())
	require.Equal(t, playback.Playing, m.State())
	title, ok := m.Title()
	require.True(t, ok)
	require.Equal(t, "song", title)
}

func TestPauseOnlyAppliesWhilePlaying(t *testing.T) {
	sink := &playback.NullSink{}
	m := playback.New(sink)

	require.NoError(t, m.Pause()) // no-op from IDLE
	require.Equal(t, playback.Idle, m.State())

	require.NoError(t, m.Play("song", nil))
	require.NoError(t, m.Pause())
	require.Equal(t, playback.Paused, m.State())
}

func TestContinueOnlyAppliesWhilePaused(t *testing.T) {
	sink := &playback.NullSink{}
	m := playback.New(sink)

	require.NoError(t, m.Continue()) // no-op from IDLE
	require.Equal(t, playback.Idle, m.State())

	require.NoError(t, m.Play("song", nil))
	require.NoError(t, m.Pause())
	require.NoError(t, m.Continue())
	require.Equal(t, playback.Playing, m.State())
}

func TestPlayWhilePlayingStopsCurrentFirst(t *testing.T) {
	sink := &playback.NullSink{}
	m := playback.New(sink)

	require.NoError(t, m.Play("first", nil))
	require.NoError(t, m.Play("second", nil))

	title, ok := m.Title()
	require.True(t, ok)
	require.Equal(t, "second", title)
	require.Equal(t, "play:second:0 bytes", sink.Last())
}

func TestStopResetsToIdle(t *testing.T) {
	sink := &playback.NullSink{}
	m := playback.New(sink)

	require.NoError(t, m.Play("song", nil))
	require.NoError(t, m.Stop())
	require.Equal(t, playback.Idle, m.State())
	require.False(t, m.Playing())

	require.NoError(t, m.Stop()) // idempotent from IDLE
}
