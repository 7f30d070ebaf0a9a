package webgpu

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/cogentcore/webgpu/wgpu"
	"github.com/oliverbestmann/lumen"
)

var forceFallbackAdapter = os.Getenv("WGPU_FORCE_FALLBACK_ADAPTER") == "1"

func init() {
	runtime.LockOSThread()

	switch strings.ToUpper(os.Getenv("WGPU_LOG_LEVEL")) {
	case "OFF":
		wgpu.SetLogLevel(wgpu.LogLevelOff)
	case "ERROR":
		wgpu.SetLogLevel(wgpu.LogLevelError)
	case "WARN":
		wgpu.SetLogLevel(wgpu.LogLevelWarn)
	case "INFO":
		wgpu.SetLogLevel(wgpu.LogLevelInfo)
	case "DEBUG":
		wgpu.SetLogLevel(wgpu.LogLevelDebug)
	case "TRACE":
		wgpu.SetLogLevel(wgpu.LogLevelTrace)
	}
}

// Backend bundles the native objects behind a Device. Open it with a
// surface descriptor for rendering to a window, or with nil for headless
// compute work.
type Backend struct {
	Instance *wgpu.Instance
	Surface  *wgpu.Surface
	Adapter  *wgpu.Adapter
	Raw      *wgpu.Device
	Queue    *wgpu.Queue
	Device   *Device
}

func Open(sd *wgpu.SurfaceDescriptor) (b *Backend, err error) {
	defer func() {
		if err != nil && b != nil {
			b.Release()
			b = nil
		}
	}()

	b = &Backend{}

	b.Instance = wgpu.CreateInstance(nil)

	if sd != nil {
		b.Surface = b.Instance.CreateSurface(sd)
	}

	b.Adapter, err = b.Instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: forceFallbackAdapter,
		CompatibleSurface:    b.Surface,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}

	b.Raw, err = b.Adapter.RequestDevice(nil)
	if err != nil {
		return nil, fmt.Errorf("request device: %w", err)
	}

	b.Queue = b.Raw.GetQueue()
	b.Device = NewDevice(b.Raw, b.Queue)

	return b, nil
}

func (b *Backend) Release() {
	if b.Queue != nil {
		b.Queue.Release()
		b.Queue = nil
	}

	if b.Raw != nil {
		b.Raw.Release()
		b.Raw = nil
	}

	if b.Adapter != nil {
		b.Adapter.Release()
		b.Adapter = nil
	}

	if b.Surface != nil {
		b.Surface.Release()
		b.Surface = nil
	}

	if b.Instance != nil {
		b.Instance.Release()
		b.Instance = nil
	}
}

// Swapchain manages surface configuration and per frame texture
// registration. Acquired frames register the surface texture with the
// registry and unregister it again at Present, so a frame that outlives its
// texture fails with a dangling handle instead of touching a stale view.
type Swapchain struct {
	backend *Backend
	reg     *lumen.Registry
	config  *wgpu.SurfaceConfiguration

	depth       bool
	depthTex    *wgpu.Texture
	depthView   *wgpu.TextureView
	depthHandle lumen.TextureHandle
}

func NewSwapchain(backend *Backend, reg *lumen.Registry, depth bool) *Swapchain {
	caps := backend.Surface.GetCapabilities(backend.Adapter)

	return &Swapchain{
		backend: backend,
		reg:     reg,
		depth:   depth,
		config: &wgpu.SurfaceConfiguration{
			Usage:       wgpu.TextureUsageRenderAttachment,
			Format:      caps.Formats[0],
			PresentMode: wgpu.PresentModeFifo,
			AlphaMode:   caps.AlphaModes[0],
		},
	}
}

func (sc *Swapchain) Format() wgpu.TextureFormat {
	return sc.config.Format
}

// Configure sizes the surface, call it on startup and on every resize.
func (sc *Swapchain) Configure(width, height uint32) {
	sc.config.Width = width
	sc.config.Height = height
	sc.backend.Surface.Configure(sc.backend.Adapter, sc.backend.Raw, sc.config)

	sc.releaseDepth()

	if sc.depth {
		sc.depthTex, sc.depthView, sc.depthHandle = sc.createDepth(width, height)
	}
}

func (sc *Swapchain) createDepth(width, height uint32) (*wgpu.Texture, *wgpu.TextureView, lumen.TextureHandle) {
	tex, err := sc.backend.Raw.CreateTexture(&wgpu.TextureDescriptor{
		Label: "depth",
		Usage: wgpu.TextureUsageRenderAttachment,
		Size: wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
		Format:        wgpu.TextureFormatDepth32Float,
		Dimension:     wgpu.TextureDimension2D,
		SampleCount:   1,
		MipLevelCount: 1,
	})
	if err != nil {
		panic(fmt.Errorf("create depth texture: %w", err))
	}

	view, err := tex.CreateView(nil)
	if err != nil {
		panic(fmt.Errorf("create depth view: %w", err))
	}

	handle := sc.reg.RegisterTexture(view, lumen.TextureInfo{
		Label:  "depth",
		Format: wgpu.TextureFormatDepth32Float,
		Width:  width,
		Height: height,
		Usage:  wgpu.TextureUsageRenderAttachment,
	})

	return tex, view, handle
}

func (sc *Swapchain) releaseDepth() {
	if sc.depthHandle.Valid() {
		_, _ = sc.reg.DestroyTexture(sc.depthHandle)
		sc.depthHandle = lumen.TextureHandle{}
	}
	if sc.depthView != nil {
		sc.depthView.Release()
		sc.depthView = nil
	}
	if sc.depthTex != nil {
		sc.depthTex.Release()
		sc.depthTex = nil
	}
}

// SurfaceFrame is one acquired surface texture, registered for the duration
// of the frame.
type SurfaceFrame struct {
	Color lumen.TextureHandle
	Depth lumen.TextureHandle

	sc      *Swapchain
	texture *wgpu.Texture
	view    *wgpu.TextureView
}

// Acquire gets the next surface texture and registers it. Call Present when
// the frame was submitted.
func (sc *Swapchain) Acquire() (*SurfaceFrame, error) {
	texture, err := sc.backend.Surface.GetCurrentTexture()
	if err != nil {
		return nil, fmt.Errorf("acquire surface texture: %w", err)
	}

	view, err := texture.CreateView(nil)
	if err != nil {
		texture.Release()
		return nil, fmt.Errorf("create surface view: %w", err)
	}

	handle := sc.reg.RegisterTexture(view, lumen.TextureInfo{
		Label:  "surface",
		Format: sc.config.Format,
		Width:  sc.config.Width,
		Height: sc.config.Height,
		Usage:  wgpu.TextureUsageRenderAttachment,
	})

	return &SurfaceFrame{
		Color:   handle,
		Depth:   sc.depthHandle,
		sc:      sc,
		texture: texture,
		view:    view,
	}, nil
}

// Present unregisters the frame texture and presents the surface. The color
// handle dangles afterwards.
func (f *SurfaceFrame) Present() {
	_, _ = f.sc.reg.DestroyTexture(f.Color)
	f.view.Release()
	f.sc.backend.Surface.Present()
	f.texture.Release()
}
