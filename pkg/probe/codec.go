package probe

import (
	"fmt"
	"strings"
)

// CodecType identifies a video codec family.
type CodecType int

const (
	CodecUnknown CodecType = iota
	CodecMPEG1
	CodecMPEG2
	CodecMPEG4
	CodecH264
	CodecHEVC
	CodecVP8
	CodecVP9
	CodecAV1
)

// DetectCodecType maps a codec, sample entry or FourCC name to its family.
func DetectCodecType(name string) CodecType {
	lower := strings.ToLower(strings.TrimSpace(name))

	switch {
	case strings.Contains(lower, "h264"), strings.Contains(lower, "avc"):
		return CodecH264
	case strings.Contains(lower, "h265"), strings.Contains(lower, "hevc"),
		lower == "hvc1", lower == "hev1":
		return CodecHEVC
	case strings.Contains(lower, "mpeg1"), lower == "mpeg1video":
		return CodecMPEG1
	case strings.Contains(lower, "mpeg2"):
		return CodecMPEG2
	case strings.Contains(lower, "mpeg4"), lower == "mp4v":
		return CodecMPEG4
	case strings.Contains(lower, "vp8"), lower == "vp80":
		return CodecVP8
	case strings.Contains(lower, "vp9"), lower == "vp90", lower == "vp09":
		return CodecVP9
	case strings.Contains(lower, "av1"), lower == "av01":
		return CodecAV1
	default:
		return CodecUnknown
	}
}

func (c CodecType) String() string {
	switch c {
	case CodecMPEG1:
		return "MPEG-1"
	case CodecMPEG2:
		return "MPEG-2"
	case CodecMPEG4:
		return "MPEG-4"
	case CodecH264:
		return "H.264/AVC"
	case CodecHEVC:
		return "H.265/HEVC"
	case CodecVP8:
		return "VP8"
	case CodecVP9:
		return "VP9"
	case CodecAV1:
		return "AV1"
	default:
		return "unknown"
	}
}

// Advice returns a re-encoding hint for streams that are expensive to decode
// in software, or "" when the stream is fine as it is.
func Advice(c CodecType, height int) string {
	scale := ""
	if height > 1080 {
		scale = "-vf scale=-2:1080 "
	}

	switch c {
	case CodecH264, CodecVP8, CodecVP9:
		if scale == "" {
			return ""
		}
		return fmt.Sprintf("%s above 1080p may not keep up: ffmpeg -i input -c:v libx264 -preset slow -crf 23 %s-an output.mp4", c, scale)
	case CodecHEVC, CodecAV1:
		return fmt.Sprintf("%s software decode is CPU-heavy, consider: ffmpeg -i input -c:v libx264 -preset slow -crf 23 %s-an output.mp4", c, scale)
	case CodecMPEG1, CodecMPEG2, CodecMPEG4:
		return fmt.Sprintf("%s is inefficient, consider: ffmpeg -i input -c:v libx264 -profile:v main -crf 20 %s-an output.mp4", c, scale)
	default:
		return ""
	}
}
