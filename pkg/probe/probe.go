// Package probe inspects a media file before playback: container, codec,
// geometry and timing of the first video track.
package probe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Eyevinn/mp4ff/mp4"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/sirupsen/logrus"

	"frame-player/pkg/media"
)

// Container formats recognized from the file header.
const (
	ContainerMP4     = "mp4"
	ContainerIVF     = "ivf"
	ContainerUnknown = "unknown"
)

var (
	// ErrNoVideoStream means the container holds no video track.
	ErrNoVideoStream = media.ErrNoVideoStream

	// ErrUnknownContainer is returned for formats only the FFmpeg backend
	// can inspect.
	ErrUnknownContainer = errors.New("probe: container not recognized")
)

// Info describes the first video track.
type Info struct {
	Container  string
	Codec      CodecType
	SampleType string // sample entry or FourCC
	Width      int
	Height     int
	Timescale  uint32 // ticks per second
	Duration   time.Duration
	Frames     int
	FrameRate  float64
}

// File probes the media at path.
func File(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("probe: %w", err)
	}
	defer f.Close()
	return Reader(f)
}

// Check probes path before playback and logs what it found. Only a missing
// video track is returned as an error; files the probe cannot read are left
// to the decoder.
func Check(path string, log logrus.FieldLogger) (Info, error) {
	info, err := File(path)
	switch {
	case errors.Is(err, ErrNoVideoStream):
		return info, fmt.Errorf("%s: %w", path, err)
	case errors.Is(err, ErrUnknownContainer):
		log.WithField("path", path).Debug("Probe: container not recognized, leaving it to the decoder")
		return info, nil
	case err != nil:
		log.WithError(err).WithField("path", path).Warn("Probe: could not inspect file, leaving it to the decoder")
		return Info{Container: info.Container}, nil
	}

	log.WithFields(logrus.Fields{
		"container": info.Container,
		"codec":     info.Codec.String(),
		"size":      fmt.Sprintf("%dx%d", info.Width, info.Height),
		"frames":    info.Frames,
		"fps":       info.FrameRate,
		"duration":  info.Duration,
	}).Info("Probe: video track found")
	if advice := Advice(info.Codec, info.Height); advice != "" {
		log.Warn("Probe: " + advice)
	}
	return info, nil
}

// Reader probes r from its start.
func Reader(r io.ReadSeeker) (Info, error) {
	head := make([]byte, 12)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return Info{Container: ContainerUnknown}, fmt.Errorf("probe: read header: %w", err)
	}
	head = head[:n]
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Info{Container: ContainerUnknown}, fmt.Errorf("probe: seek: %w", err)
	}

	switch {
	case bytes.HasPrefix(head, []byte("DKIF")):
		return probeIVF(r)
	case len(head) >= 8 && isMP4Box(string(head[4:8])):
		return probeMP4(r)
	}
	return Info{Container: ContainerUnknown}, ErrUnknownContainer
}

func isMP4Box(t string) bool {
	switch t {
	case "ftyp", "moov", "styp", "free", "mdat":
		return true
	}
	return false
}

func probeIVF(r io.Reader) (Info, error) {
	reader, hdr, err := ivfreader.NewWith(r)
	if err != nil {
		return Info{Container: ContainerIVF}, fmt.Errorf("probe: ivf: %w", err)
	}

	info := Info{
		Container:  ContainerIVF,
		Codec:      DetectCodecType(hdr.FourCC),
		SampleType: hdr.FourCC,
		Width:      int(hdr.Width),
		Height:     int(hdr.Height),
		Timescale:  hdr.TimebaseDenominator,
		Frames:     int(hdr.NumFrames),
	}

	// Frame headers carry the real timestamps; walk them without keeping
	// payloads.
	var (
		last   uint64
		frames int
	)
	for {
		_, fh, err := reader.ParseNextFrame()
		if err != nil {
			break
		}
		last = fh.Timestamp
		frames++
	}
	if frames > 0 {
		info.Frames = frames
	}
	if hdr.TimebaseDenominator > 0 {
		tick := time.Duration(float64(time.Second) * float64(hdr.TimebaseNumerator) / float64(hdr.TimebaseDenominator))
		info.Duration = time.Duration(last) * tick
		if frames > 1 && info.Duration > 0 {
			info.FrameRate = float64(frames-1) / info.Duration.Seconds()
		}
	}
	return info, nil
}

// probeMP4 reads the box tree without loading mdat payloads.
func probeMP4(r io.ReadSeeker) (Info, error) {
	f, err := mp4.DecodeFile(r, mp4.WithDecodeMode(mp4.DecModeLazyMdat))
	if err != nil {
		return Info{Container: ContainerMP4}, fmt.Errorf("probe: mp4: %w", err)
	}

	moov := f.Moov
	if moov == nil && f.Init != nil {
		moov = f.Init.Moov
	}
	if moov == nil {
		return Info{Container: ContainerMP4}, fmt.Errorf("%w: missing moov box", ErrNoVideoStream)
	}

	for _, trak := range moov.Traks {
		if info, ok := videoTrack(trak); ok {
			return info, nil
		}
	}
	return Info{Container: ContainerMP4}, ErrNoVideoStream
}

func videoTrack(trak *mp4.TrakBox) (Info, bool) {
	if trak.Mdia == nil || trak.Mdia.Hdlr == nil || trak.Mdia.Hdlr.HandlerType != "vide" {
		return Info{}, false
	}
	info := Info{Container: ContainerMP4}

	if mdhd := trak.Mdia.Mdhd; mdhd != nil {
		info.Timescale = mdhd.Timescale
		if mdhd.Timescale > 0 {
			info.Duration = time.Duration(float64(mdhd.Duration) / float64(mdhd.Timescale) * float64(time.Second))
		}
	}

	if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil {
		return info, true
	}
	stbl := trak.Mdia.Minf.Stbl

	if stbl.Stsd != nil {
		for _, child := range stbl.Stsd.Children {
			info.SampleType = child.Type()
			info.Codec = DetectCodecType(child.Type())
			if vse, ok := child.(*mp4.VisualSampleEntryBox); ok {
				info.Width = int(vse.Width)
				info.Height = int(vse.Height)
			}
			break
		}
	}
	if stbl.Stsz != nil {
		info.Frames = int(stbl.Stsz.SampleNumber)
	}
	if info.Frames > 0 && info.Duration > 0 {
		info.FrameRate = float64(info.Frames) / info.Duration.Seconds()
	}
	return info, true
}
