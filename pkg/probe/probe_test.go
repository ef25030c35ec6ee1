package probe

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ivfFile(fourcc string, w, h uint16, den, num uint32, timestamps ...uint64) []byte {
	var buf bytes.Buffer
	hdr := make([]byte, 32)
	copy(hdr[0:4], "DKIF")
	binary.LittleEndian.PutUint16(hdr[4:], 0)
	binary.LittleEndian.PutUint16(hdr[6:], 32)
	copy(hdr[8:12], fourcc)
	binary.LittleEndian.PutUint16(hdr[12:], w)
	binary.LittleEndian.PutUint16(hdr[14:], h)
	binary.LittleEndian.PutUint32(hdr[16:], den)
	binary.LittleEndian.PutUint32(hdr[20:], num)
	binary.LittleEndian.PutUint32(hdr[24:], uint32(len(timestamps)))
	buf.Write(hdr)

	payload := []byte{0x10, 0x02, 0x00}
	for _, ts := range timestamps {
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:], uint32(len(payload)))
		binary.LittleEndian.PutUint64(fh[4:], ts)
		buf.Write(fh)
		buf.Write(payload)
	}
	return buf.Bytes()
}

func moovBox(handler string) *mp4.MoovBox {
	init := mp4.CreateEmptyInit()
	init.AddEmptyTrack(30000, handler, "und")
	if handler == "video" {
		init.Moov.Trak.Mdia.Minf.Stbl.Stsd.AddChild(mp4.CreateVisualSampleEntryBox("vp09", 640, 360, nil))
	}
	return init.Moov
}

func ftyp() *mp4.FtypBox {
	return mp4.NewFtyp("isom", 0x200, []string{"isom", "iso6"})
}

func mp4File(t *testing.T, handler string) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, ftyp().Encode(&buf))
	require.NoError(t, moovBox(handler).Encode(&buf))
	return buf.Bytes()
}

// writeLargeMP4 writes ftyp, a sparse mdat of payload bytes and a trailing
// moov.
func writeLargeMP4(t *testing.T, payload int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "large.mp4")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, ftyp().Encode(f))
	hdr := make([]byte, 8)
	binary.BigEndian.PutUint32(hdr, uint32(8+payload))
	copy(hdr[4:], "mdat")
	_, err = f.Write(hdr)
	require.NoError(t, err)
	_, err = f.Seek(payload, io.SeekCurrent)
	require.NoError(t, err)
	require.NoError(t, moovBox("video").Encode(f))
	return path
}

func TestProbeIVF(t *testing.T) {
	data := ivfFile("VP80", 320, 240, 30, 1, 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10)

	info, err := Reader(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, ContainerIVF, info.Container)
	assert.Equal(t, CodecVP8, info.Codec)
	assert.Equal(t, 320, info.Width)
	assert.Equal(t, 240, info.Height)
	assert.Equal(t, 11, info.Frames)
	assert.InDelta(t, float64(333*time.Millisecond), float64(info.Duration), float64(time.Millisecond))
	assert.InDelta(t, 30.0, info.FrameRate, 0.1)
}

func TestProbeMP4VideoTrack(t *testing.T) {
	info, err := Reader(bytes.NewReader(mp4File(t, "video")))
	require.NoError(t, err)
	assert.Equal(t, ContainerMP4, info.Container)
	assert.Equal(t, CodecVP9, info.Codec)
	assert.Equal(t, "vp09", info.SampleType)
	assert.Equal(t, 640, info.Width)
	assert.Equal(t, 360, info.Height)
	assert.Equal(t, uint32(30000), info.Timescale)
}

func TestProbeMP4DoesNotLoadMdat(t *testing.T) {
	const payload = 256 << 20
	path := writeLargeMP4(t, payload)

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	info, err := File(path)
	runtime.ReadMemStats(&after)

	require.NoError(t, err)
	assert.Equal(t, 640, info.Width)
	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(payload/16))
}

func TestProbeMP4WithoutVideo(t *testing.T) {
	_, err := Reader(bytes.NewReader(mp4File(t, "audio")))
	assert.ErrorIs(t, err, ErrNoVideoStream)
}

func TestProbeUnknownContainer(t *testing.T) {
	info, err := Reader(bytes.NewReader([]byte("\x00\x00\x01\xba MPEG-PS")))
	assert.ErrorIs(t, err, ErrUnknownContainer)
	assert.Equal(t, ContainerUnknown, info.Container)
}

func TestCheckLogsVideoTrack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mp4")
	require.NoError(t, os.WriteFile(path, mp4File(t, "video"), 0o644))
	log, hook := test.NewNullLogger()

	info, err := Check(path, log)
	require.NoError(t, err)
	assert.Equal(t, 640, info.Width)
	require.NotEmpty(t, hook.AllEntries())
	assert.Equal(t, "Probe: video track found", hook.AllEntries()[0].Message)
}

func TestCheckFailsWithoutVideo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio.mp4")
	require.NoError(t, os.WriteFile(path, mp4File(t, "audio"), 0o644))
	log, _ := test.NewNullLogger()

	_, err := Check(path, log)
	assert.ErrorIs(t, err, ErrNoVideoStream)
}

func TestCheckLeavesUnreadableFilesToDecoder(t *testing.T) {
	// An init-style moov followed by mdat is valid for FFmpeg but not for
	// the box parser.
	var buf bytes.Buffer
	require.NoError(t, ftyp().Encode(&buf))
	require.NoError(t, moovBox("video").Encode(&buf))
	buf.Write([]byte{0, 0, 0, 12, 'm', 'd', 'a', 't', 1, 2, 3, 4})
	path := filepath.Join(t.TempDir(), "odd.mp4")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	_, err := File(path)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNoVideoStream)

	log, hook := test.NewNullLogger()
	info, err := Check(path, log)
	require.NoError(t, err)
	assert.Equal(t, ContainerMP4, info.Container)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestCheckUnknownContainerIsNotAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clip.mpg")
	require.NoError(t, os.WriteFile(path, []byte("\x00\x00\x01\xba MPEG-PS"), 0o644))
	log, _ := test.NewNullLogger()

	info, err := Check(path, log)
	require.NoError(t, err)
	assert.Equal(t, ContainerUnknown, info.Container)
}

func TestProbeMissingFile(t *testing.T) {
	_, err := File("/nonexistent/clip.mp4")
	assert.Error(t, err)
}

func TestDetectCodecType(t *testing.T) {
	cases := map[string]CodecType{
		"h264":       CodecH264,
		"avc1":       CodecH264,
		"hevc":       CodecHEVC,
		"hvc1":       CodecHEVC,
		"mpeg1video": CodecMPEG1,
		"mpeg2video": CodecMPEG2,
		"mp4v":       CodecMPEG4,
		"VP80":       CodecVP8,
		"VP90":       CodecVP9,
		"vp09":       CodecVP9,
		"av01":       CodecAV1,
		"theora":     CodecUnknown,
	}
	for name, want := range cases {
		assert.Equal(t, want, DetectCodecType(name), name)
	}
}

func TestAdvice(t *testing.T) {
	assert.Empty(t, Advice(CodecH264, 1080))
	assert.Contains(t, Advice(CodecH264, 2160), "scale=-2:1080")
	assert.Contains(t, Advice(CodecAV1, 720), "AV1")
	assert.Contains(t, Advice(CodecMPEG2, 576), "libx264")
	assert.Empty(t, Advice(CodecUnknown, 2160))
}
