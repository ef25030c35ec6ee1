package player

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frame-player/pkg/clock"
	"frame-player/pkg/framepool"
	"frame-player/pkg/input"
	"frame-player/pkg/mocks"
	"frame-player/pkg/pacing"
)

type fakeDisplay struct {
	*mocks.Renderer
	stopAfter int
	polls     int
}

func (d *fakeDisplay) PollEvents() input.StopReason {
	d.polls++
	if d.stopAfter > 0 && d.polls > d.stopAfter {
		return input.StopKey
	}
	return input.StopNone
}

// closeCheckDecoder records how many buffers were destroyed when the decoder
// was closed.
type closeCheckDecoder struct {
	*mocks.Decoder
	rend             *mocks.Renderer
	destroyedAtClose int
}

func (d *closeCheckDecoder) Close() {
	d.destroyedAtClose = len(d.rend.Destroyed)
	d.Decoder.Close()
}

type fixture struct {
	display *fakeDisplay
	pool    *framepool.Pool
	clk     *clock.Manual
	player  *Player
	hook    *test.Hook
	sleeps  []time.Duration
}

func newFixture(t *testing.T, capacity, stopAfter int, dec *mocks.Decoder) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	display := &fakeDisplay{Renderer: &mocks.Renderer{}, stopAfter: stopAfter}
	pool, err := framepool.New(capacity, display)
	require.NoError(t, err)

	f := &fixture{display: display, pool: pool, clk: clock.NewManual(0), hook: hook}
	f.player = New(pool, dec, display, f.clk, Options{FrameInterval: 16 * time.Millisecond}, logger.WithField("component", "test"))
	f.player.sleep = func(d time.Duration) {
		f.sleeps = append(f.sleeps, d)
		f.clk.Advance(16)
	}
	t.Cleanup(f.player.Close)
	return f
}

func burst(pts ...int64) *mocks.Decoder {
	d := mocks.NewDecoder()
	d.Steps = []mocks.Step{{Frames: pts}}
	return d
}

func TestRunPlaysUntilStopKey(t *testing.T) {
	dec := mocks.NewDecoder(0, 40, 80, 120, 160, 200)
	f := newFixture(t, 5, 30, dec)

	sum, err := f.player.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, input.StopKey, sum.Reason)
	assert.True(t, sum.Ended)
	assert.Equal(t, 30, sum.Report.Ticks)
	assert.Equal(t, 6, sum.Report.Ingested)
	assert.Equal(t, 6, sum.Report.Shown)
	require.Len(t, f.display.Presented, 30)

	last := f.display.Presented[len(f.display.Presented)-1]
	up, ok := f.display.LastUpload(last)
	require.True(t, ok)
	assert.Equal(t, int64(200), up.PTS, "last frame is held after the stream ends")
}

func TestRunSleepsOutTheFrameInterval(t *testing.T) {
	f := newFixture(t, 5, 3, mocks.NewDecoder(0, 16, 32, 48))

	_, err := f.player.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, f.sleeps, 3)
	for _, d := range f.sleeps {
		assert.Positive(t, d)
		assert.LessOrEqual(t, d, 16*time.Millisecond)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	f := newFixture(t, 5, 0, mocks.NewDecoder(0, 40))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := f.player.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, input.StopSignal, sum.Reason)
	assert.Zero(t, sum.Report.Ticks)
	assert.Empty(t, f.display.Presented)
}

func TestRunFailsWhenNothingIsDue(t *testing.T) {
	f := newFixture(t, 2, 10, burst(100, 200))

	_, err := f.player.Run(context.Background())
	require.ErrorIs(t, err, pacing.ErrNoCurrentFrame)
	assert.Empty(t, f.display.Presented)

	entry := f.hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "Player: no frame due for display", entry.Message)
}

func TestRunPlaysFlushBurstLargerThanPool(t *testing.T) {
	dec := mocks.NewDecoder(0)
	dec.FlushFrames = []int64{16, 32, 48, 64, 80, 96, 112}
	f := newFixture(t, 3, 12, dec)

	sum, err := f.player.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, sum.Ended)
	assert.Equal(t, 8, sum.Report.Ingested)

	last := f.display.Presented[len(f.display.Presented)-1]
	up, ok := f.display.LastUpload(last)
	require.True(t, ok)
	assert.Equal(t, int64(112), up.PTS)
}

func TestLogLinesCarrySession(t *testing.T) {
	f := newFixture(t, 5, 1, mocks.NewDecoder(0))

	sum, err := f.player.Run(context.Background())
	require.NoError(t, err)

	_, err = uuid.Parse(sum.Session)
	require.NoError(t, err)
	assert.Equal(t, f.player.Session(), sum.Session)

	require.NotEmpty(t, f.hook.AllEntries())
	for _, e := range f.hook.AllEntries() {
		assert.Equal(t, sum.Session, e.Data["session"], e.Message)
	}
}

func TestCloseReleasesPoolBeforeDecoder(t *testing.T) {
	logger, _ := test.NewNullLogger()
	display := &fakeDisplay{Renderer: &mocks.Renderer{}}
	pool, err := framepool.New(3, display)
	require.NoError(t, err)

	dec := &closeCheckDecoder{Decoder: mocks.NewDecoder(0), rend: display.Renderer}
	p := New(pool, dec, display, clock.NewManual(0), Options{}, logger.WithField("component", "test"))

	p.Close()
	p.Close()

	assert.True(t, dec.Closed)
	assert.Equal(t, 3, dec.destroyedAtClose)
	assert.Len(t, display.Destroyed, 3)
}
