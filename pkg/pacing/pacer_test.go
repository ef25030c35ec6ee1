package pacing

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"frame-player/pkg/clock"
	"frame-player/pkg/framepool"
	"frame-player/pkg/media"
	"frame-player/pkg/mocks"
)

type fixture struct {
	dec   *mocks.Decoder
	rend  *mocks.Renderer
	pool  *framepool.Pool
	pacer *Pacer
	clk   *clock.Manual
	hook  *test.Hook
}

func newFixture(t *testing.T, capacity int, dec *mocks.Decoder) *fixture {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	rend := &mocks.Renderer{}
	pool, err := framepool.New(capacity, rend)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	ing := NewIngestor(dec, rend, pool, logger.WithField("component", "test"))
	return &fixture{
		dec:   dec,
		rend:  rend,
		pool:  pool,
		pacer: NewPacer(pool, ing),
		clk:   clock.NewManual(0),
		hook:  hook,
	}
}

func (f *fixture) tick(t *testing.T) TickResult {
	t.Helper()
	res, err := f.pacer.Tick(f.clk.Now())
	require.NoError(t, err)
	assert.Equal(t, res.Pool.Capacity, res.Pool.Free+len(res.Pool.Live))
	return res
}

func burst(pts ...int64) *mocks.Decoder {
	d := mocks.NewDecoder()
	d.Steps = []mocks.Step{{Frames: pts}}
	return d
}

// Five frames decoded from one packet are taken only as far as the clock
// needs; the rest stay in the codec until the clock moves.
func TestTickSelectsDueFrameWithoutOverDecoding(t *testing.T) {
	f := newFixture(t, 5, burst(0, 10, 20, 30, 40))
	f.clk.Set(5)

	res := f.tick(t)
	assert.Equal(t, int64(0), res.Frame.Timestamp)
	assert.Equal(t, []int64{0, 10}, res.Pool.Timestamps())
	assert.Equal(t, 3, res.Pool.Free)
	assert.Equal(t, 2, res.Ingest.Frames)

	reads := f.dec.ReadCalls
	f.clk.Set(25)
	res = f.tick(t)
	assert.Equal(t, int64(20), res.Frame.Timestamp)
	assert.Equal(t, []int64{0, 10, 20, 30}, res.Pool.Timestamps())
	assert.Equal(t, reads, f.dec.ReadCalls, "buffered frames come before new packets")
	assert.Equal(t, 2, res.Ingest.Frames)

	res = f.tick(t)
	assert.Equal(t, int64(20), res.Frame.Timestamp)
	assert.Zero(t, res.Ingest.Frames, "look-ahead satisfied, decoder must not be touched")
}

func TestTickEvictsPastFramesKeepingCurrent(t *testing.T) {
	f := newFixture(t, 2, mocks.NewDecoder(0, 10, 20, 30))
	f.clk.Set(15)

	res := f.tick(t)
	assert.Equal(t, int64(10), res.Frame.Timestamp)
	assert.Equal(t, []int64{10, 20}, res.Pool.Timestamps())
	assert.Equal(t, 1, res.Ingest.Evicted)
}

// A flush that releases more frames than there are free buffers must not
// exhaust the pool: frames beyond the look-ahead wait in the codec.
func TestFlushBurstLargerThanFreeBuffers(t *testing.T) {
	dec := mocks.NewDecoder(0, 40)
	dec.FlushFrames = []int64{80, 120, 160, 200, 240}
	f := newFixture(t, 5, dec)

	f.clk.Set(50)
	res := f.tick(t)
	assert.Equal(t, int64(40), res.Frame.Timestamp)
	assert.Equal(t, []int64{0, 40, 80}, res.Pool.Timestamps())
	assert.True(t, dec.Flushed)
	assert.False(t, f.pacer.Ended())

	for now := int64(90); now <= 250; now += 40 {
		f.clk.Set(now)
		res = f.tick(t)
		assert.Equal(t, now/40*40, res.Frame.Timestamp, "now=%d", now)
	}
	assert.True(t, f.pacer.Ended())
	assert.Equal(t, int64(240), res.Frame.Timestamp)
	assert.Len(t, f.rend.Uploads, 7)
}

// E: after the stream ends the last frame stays on screen.
func TestTickHoldsLastFrameAfterEndOfStream(t *testing.T) {
	f := newFixture(t, 2, mocks.NewDecoder(100, 200, 300))
	f.clk.Set(250)
	res := f.tick(t)
	assert.Equal(t, int64(200), res.Frame.Timestamp)

	f.clk.Set(310)
	res = f.tick(t)
	assert.True(t, res.Ingest.EndOfStream)
	assert.True(t, f.pacer.Ended())
	assert.True(t, f.dec.Flushed)
	assert.Equal(t, int64(300), res.Frame.Timestamp)

	reads, receives := f.dec.ReadCalls, f.dec.ReceiveCalls
	for _, now := range []int64{400, 1000, 60000} {
		f.clk.Set(now)
		res = f.tick(t)
		assert.Equal(t, int64(300), res.Frame.Timestamp)
		assert.False(t, res.Ingest.EndOfStream)
	}
	assert.Equal(t, reads, f.dec.ReadCalls)
	assert.Equal(t, receives, f.dec.ReceiveCalls)
}

func TestFlushDrainsBufferedFrames(t *testing.T) {
	dec := mocks.NewDecoder()
	dec.Steps = []mocks.Step{{}, {}}
	dec.FlushFrames = []int64{0, 10}
	f := newFixture(t, 5, dec)
	f.clk.Set(5)

	res := f.tick(t)
	assert.Equal(t, 2, res.Ingest.Packets)
	assert.Equal(t, 2, res.Ingest.Frames)
	assert.False(t, res.Ingest.EndOfStream, "look-ahead met before the codec ran dry")
	assert.Equal(t, int64(0), res.Frame.Timestamp)

	f.clk.Set(15)
	res = f.tick(t)
	assert.True(t, res.Ingest.EndOfStream)
	assert.Equal(t, int64(10), res.Frame.Timestamp)
}

func TestSelectorFailureIsFatal(t *testing.T) {
	f := newFixture(t, 5, mocks.NewDecoder(100))

	res, err := f.pacer.Tick(0)
	assert.ErrorIs(t, err, ErrNoCurrentFrame)
	assert.Equal(t, []int64{100}, res.Pool.Timestamps())
}

func TestReadErrorIsTransient(t *testing.T) {
	dec := mocks.NewDecoder()
	dec.Steps = []mocks.Step{
		{Frames: []int64{0}},
		{ReadErr: errors.New("corrupt packet")},
		{Frames: []int64{10}},
	}
	f := newFixture(t, 5, dec)

	res := f.tick(t)
	assert.Error(t, res.Ingest.Transient)
	assert.Equal(t, int64(0), res.Frame.Timestamp)
	assert.Equal(t, []int64{0}, res.Pool.Timestamps())
	require.NotEmpty(t, f.hook.Entries)
	assert.Equal(t, logrus.WarnLevel, f.hook.LastEntry().Level)

	f.clk.Set(1)
	res = f.tick(t)
	assert.NoError(t, res.Ingest.Transient)
	assert.Equal(t, []int64{0, 10}, res.Pool.Timestamps())
}

func TestSubmitErrorIsTransient(t *testing.T) {
	dec := mocks.NewDecoder()
	dec.Steps = []mocks.Step{
		{Frames: []int64{0}},
		{SubmitErr: errors.New("invalid data")},
		{Frames: []int64{10}},
	}
	f := newFixture(t, 5, dec)

	res := f.tick(t)
	assert.Error(t, res.Ingest.Transient)
	assert.Equal(t, 1, res.Ingest.Packets)

	res = f.tick(t)
	assert.Equal(t, []int64{0, 10}, res.Pool.Timestamps())
}

func TestUploadFailureIsFatalAndReleasesBuffer(t *testing.T) {
	dec := mocks.NewDecoder(0, 10)
	f := newFixture(t, 3, dec)
	uploadErr := errors.New("texture lost")
	f.rend.UploadFunc = func(_ media.BufferHandle, frame *media.RawFrame) error {
		if frame.PTS == 10 {
			return uploadErr
		}
		return nil
	}

	res, err := f.pacer.Tick(0)
	assert.ErrorIs(t, err, ErrUpload)
	assert.ErrorIs(t, err, uploadErr)
	assert.Equal(t, []int64{0}, res.Pool.Timestamps())
	assert.Equal(t, 2, res.Pool.Free)
}

func TestOutOfOrderFramesAreDropped(t *testing.T) {
	f := newFixture(t, 5, mocks.NewDecoder(0, 20, 10, 30))
	f.clk.Set(25)

	res := f.tick(t)
	assert.Equal(t, 1, res.Ingest.Dropped)
	assert.Equal(t, []int64{0, 20, 30}, res.Pool.Timestamps())
	assert.Equal(t, int64(20), res.Frame.Timestamp)

	var warned bool
	for _, e := range f.hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestTimestampsUseStreamTimeBase(t *testing.T) {
	dec := mocks.NewDecoder(9000, 12000, 15000)
	dec.StreamInfo.TimeBaseScale = 1000.0 / 90000.0
	dec.StreamInfo.StartPTS = 9000
	f := newFixture(t, 5, dec)
	f.clk.Set(40)

	res := f.tick(t)
	assert.Equal(t, []int64{0, 33, 66}, res.Pool.Timestamps())
	assert.Equal(t, int64(33), res.Frame.Timestamp)
}

func TestSelectIsIdempotent(t *testing.T) {
	f := newFixture(t, 5, burst(0, 10, 20))
	f.tick(t)

	first, err := Select(f.pool, 15)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		again, err := Select(f.pool, 15)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, int64(10), first.Timestamp)
}

func TestSelectedFrameSurvivesLongPlayback(t *testing.T) {
	var pts []int64
	for ts := int64(0); ts <= 2000; ts += 40 {
		pts = append(pts, ts)
	}
	f := newFixture(t, 5, mocks.NewDecoder(pts...))

	for now := int64(0); now <= 2100; now += 16 {
		f.clk.Set(now)
		res := f.tick(t)
		want := now / 40 * 40
		if want > 2000 {
			want = 2000
		}
		assert.Equal(t, want, res.Frame.Timestamp, "now=%d", now)
		up, ok := f.rend.LastUpload(res.Frame.Handle)
		require.True(t, ok)
		assert.Equal(t, res.Frame.Timestamp, up.PTS, "buffer content must match the selected frame")
	}
	assert.True(t, f.pacer.Ended())
}
