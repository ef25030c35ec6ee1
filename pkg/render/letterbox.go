package render

// Letterbox fits a video of vw x vh into an output of ow x oh keeping the
// aspect ratio, centered. It returns the destination rectangle.
func Letterbox(vw, vh, ow, oh int32) (x, y, w, h int32) {
	if vw <= 0 || vh <= 0 || ow <= 0 || oh <= 0 {
		return 0, 0, ow, oh
	}
	scale := float64(ow) / float64(vw)
	if s := float64(oh) / float64(vh); s < scale {
		scale = s
	}
	w = int32(float64(vw) * scale)
	h = int32(float64(vh) * scale)
	return (ow - w) / 2, (oh - h) / 2, w, h
}
