// Package render owns the SDL window and renderer. Every display buffer is a
// streaming IYUV texture sized to the video.
package render

import (
	"fmt"
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/veandco/go-sdl2/sdl"

	"frame-player/pkg/input"
	"frame-player/pkg/media"
)

// Options describe the window.
type Options struct {
	Title      string
	Width      int // video width
	Height     int // video height
	Fullscreen bool
	VSync      bool
}

// Init starts the SDL video subsystem, trying SDL_VIDEODRIVER first and then
// the platform's usual drivers.
func Init(log *logrus.Entry) error {
	var drivers []string
	if env := os.Getenv("SDL_VIDEODRIVER"); env != "" {
		drivers = append(drivers, env)
	}
	if runtime.GOOS == "darwin" {
		drivers = append(drivers, "cocoa")
	} else {
		drivers = append(drivers, "wayland", "x11", "kmsdrm")
	}
	drivers = append(drivers, "dummy")

	sdl.SetHint(sdl.HINT_RENDER_SCALE_QUALITY, "1")
	sdl.SetHint(sdl.HINT_VIDEO_MINIMIZE_ON_FOCUS_LOSS, "0")

	var lastErr error
	for _, driver := range drivers {
		sdl.SetHint(sdl.HINT_VIDEODRIVER, driver)
		if err := sdl.Init(sdl.INIT_VIDEO | sdl.INIT_EVENTS); err != nil {
			log.WithError(err).WithField("driver", driver).Debug("Render: video driver unavailable")
			lastErr = err
			sdl.Quit()
			continue
		}
		name, _ := sdl.GetCurrentVideoDriver()
		entry := log.WithField("driver", name)
		if name == "dummy" {
			entry.Warn("Render: no display driver available, rendering off-screen")
		} else {
			entry.Info("Render: SDL initialized")
		}
		return nil
	}
	return fmt.Errorf("render: all SDL video drivers failed: %w", lastErr)
}

// Quit shuts SDL down. It must run after Close.
func Quit() {
	sdl.Quit()
}

// SDL implements media.Renderer with one texture per buffer handle.
type SDL struct {
	window   *sdl.Window
	renderer *sdl.Renderer

	videoW, videoH int32
	textures       map[media.BufferHandle]*sdl.Texture
	nextHandle     media.BufferHandle

	keys *input.KeyTracker[sdl.Scancode]
	log  *logrus.Entry
}

// Open creates the window and renderer. The window matches the video size
// unless fullscreen is requested.
func Open(opts Options, log *logrus.Entry) (*SDL, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("render: invalid video size %dx%d", opts.Width, opts.Height)
	}

	w, h := int32(opts.Width), int32(opts.Height)
	var flags uint32 = sdl.WINDOW_SHOWN
	if opts.Fullscreen {
		flags |= sdl.WINDOW_FULLSCREEN_DESKTOP
	}
	window, err := sdl.CreateWindow(opts.Title, sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED, w, h, flags)
	if err != nil {
		return nil, fmt.Errorf("render: create window: %w", err)
	}

	renderer, err := createRenderer(window, opts.VSync, log)
	if err != nil {
		window.Destroy()
		return nil, err
	}

	return &SDL{
		window:     window,
		renderer:   renderer,
		videoW:     w,
		videoH:     h,
		textures:   make(map[media.BufferHandle]*sdl.Texture),
		nextHandle: 1,
		keys:       input.NewKeyTracker(sdl.Scancode(sdl.SCANCODE_ESCAPE), sdl.Scancode(sdl.SCANCODE_Q)),
		log:        log,
	}, nil
}

// createRenderer prefers an accelerated renderer and falls back to software.
func createRenderer(window *sdl.Window, vsync bool, log *logrus.Entry) (*sdl.Renderer, error) {
	var flags uint32 = sdl.RENDERER_ACCELERATED
	if vsync {
		flags |= sdl.RENDERER_PRESENTVSYNC
	}
	renderer, err := sdl.CreateRenderer(window, -1, flags)
	if err == nil {
		return renderer, nil
	}
	log.WithError(err).Warn("Render: hardware acceleration failed, trying software")

	renderer, err = sdl.CreateRenderer(window, -1, sdl.RENDERER_SOFTWARE)
	if err != nil {
		return nil, fmt.Errorf("render: create renderer: %w", err)
	}
	return renderer, nil
}

// CreateBuffer allocates a streaming texture for one frame.
func (r *SDL) CreateBuffer() (media.BufferHandle, error) {
	tex, err := r.renderer.CreateTexture(uint32(sdl.PIXELFORMAT_IYUV), sdl.TEXTUREACCESS_STREAMING, r.videoW, r.videoH)
	if err != nil {
		return 0, fmt.Errorf("render: create texture %dx%d: %w", r.videoW, r.videoH, err)
	}
	h := r.nextHandle
	r.nextHandle++
	r.textures[h] = tex
	return h, nil
}

// DestroyBuffer frees the texture behind h. Unknown handles are ignored.
func (r *SDL) DestroyBuffer(h media.BufferHandle) {
	if tex, ok := r.textures[h]; ok {
		tex.Destroy()
		delete(r.textures, h)
	}
}

// UploadPlanes copies the three I420 planes into the texture.
func (r *SDL) UploadPlanes(h media.BufferHandle, frame *media.RawFrame) error {
	tex, ok := r.textures[h]
	if !ok {
		return fmt.Errorf("render: unknown buffer %d", h)
	}
	for i, p := range frame.Planes {
		if len(p) == 0 {
			return fmt.Errorf("render: plane %d of frame pts=%d is empty", i, frame.PTS)
		}
	}
	return tex.UpdateYUV(nil,
		frame.Planes[0], frame.Strides[0],
		frame.Planes[1], frame.Strides[1],
		frame.Planes[2], frame.Strides[2])
}

// Present clears the window and draws buffer h letterboxed.
func (r *SDL) Present(h media.BufferHandle) {
	tex, ok := r.textures[h]
	if !ok {
		r.log.WithField("buffer", h).Error("Render: present of unknown buffer")
		return
	}

	outW, outH, err := r.renderer.GetOutputSize()
	if err != nil {
		outW, outH = r.videoW, r.videoH
	}
	x, y, w, hgt := Letterbox(r.videoW, r.videoH, outW, outH)

	r.renderer.SetDrawColor(0, 0, 0, 255)
	r.renderer.Clear()
	if err := r.renderer.Copy(tex, nil, &sdl.Rect{X: x, Y: y, W: w, H: hgt}); err != nil {
		r.log.WithError(err).Debug("Render: copy failed")
	}
	r.renderer.Present()
}

// PollEvents drains the SDL event queue and reports whether playback should
// stop.
func (r *SDL) PollEvents() input.StopReason {
	reason := input.StopNone
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		if _, ok := event.(*sdl.QuitEvent); ok {
			reason = input.StopWindow
		}
	}
	if reason != input.StopNone {
		return reason
	}
	if key, ok := r.keys.Poll(sdl.GetKeyboardState()); ok {
		r.log.WithField("key", sdl.GetScancodeName(key)).Debug("Render: stop key")
		return input.StopKey
	}
	return input.StopNone
}

// Buffers returns the number of live textures.
func (r *SDL) Buffers() int { return len(r.textures) }

// Close destroys any remaining textures, the renderer and the window.
func (r *SDL) Close() {
	for h := range r.textures {
		r.DestroyBuffer(h)
	}
	if r.renderer != nil {
		r.renderer.Destroy()
		r.renderer = nil
	}
	if r.window != nil {
		r.window.Destroy()
		r.window = nil
	}
}

var _ media.Renderer = (*SDL)(nil)
