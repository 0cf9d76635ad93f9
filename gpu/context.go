// Package gpu implements device, pinned, unified and stream-ordered
// memory resources on top of WebGPU.
package gpu

import (
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
	"go.uber.org/zap"
)

// Context holds the single WebGPU context shared by all GPU resources.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	once     sync.Once
}

var (
	ctx Context
	log = zap.NewNop()
)

// SetLogger routes adapter-selection logging somewhere visible. Call it
// before the first GetContext; the default logger drops everything.
func SetLogger(l *zap.Logger) {
	if l != nil {
		log = l
	}
}

// GetContext returns the singleton GPU context, initializing it if necessary
func GetContext() (*Context, error) {
	var initErr error
	ctx.once.Do(func() {
		ctx.Instance = wgpu.CreateInstance(nil)
		if ctx.Instance == nil {
			initErr = fmt.Errorf("failed to create WebGPU instance")
			return
		}

		// 0. Prefer a discrete GPU if enumeration finds one.
		adapters := ctx.Instance.EnumerateAdapters(nil)
		for _, a := range adapters {
			info := a.GetInfo()
			log.Debug("adapter",
				zap.String("name", info.Name),
				zap.String("vendor", info.VendorName),
				zap.String("type", info.AdapterType.String()))
			if info.AdapterType == wgpu.AdapterTypeDiscreteGPU {
				ctx.Adapter = a
				break
			}
		}

		// Helper to try init with an adapter option
		tryInit := func(opts *wgpu.RequestAdapterOptions) error {
			if ctx.Adapter != nil {
				return nil // Already found
			}
			var err error
			ctx.Adapter, err = ctx.Instance.RequestAdapter(opts)
			return err
		}

		// 1. Try High Performance (if not found above)
		if ctx.Adapter == nil {
			initErr = tryInit(&wgpu.RequestAdapterOptions{
				PowerPreference: wgpu.PowerPreferenceHighPerformance,
			})
		}

		if initErr != nil && ctx.Adapter == nil {
			log.Debug("high performance adapter failed, falling back", zap.Error(initErr))
			// 2. Try Low Power / Default
			initErr = tryInit(&wgpu.RequestAdapterOptions{
				PowerPreference: wgpu.PowerPreferenceLowPower,
			})
		}

		if initErr != nil && ctx.Adapter == nil {
			log.Debug("low power adapter failed, trying default", zap.Error(initErr))
			initErr = tryInit(nil)
		}

		if ctx.Adapter == nil {
			initErr = fmt.Errorf("all adapter attempts failed: %v", initErr)
			return
		}

		info := ctx.Adapter.GetInfo()
		log.Info("using GPU adapter",
			zap.String("name", info.Name),
			zap.String("vendor", info.VendorName))

		var err error
		ctx.Device, err = ctx.Adapter.RequestDevice(nil)
		if err != nil {
			initErr = err
			return
		}

		ctx.Queue = ctx.Device.GetQueue()
	})

	if initErr != nil {
		return nil, initErr
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, fmt.Errorf("WebGPU device or queue not initialized")
	}

	return &ctx, nil
}

// MaxBufferSize reports the adapter's buffer size limit, 0 when no
// context is available.
func MaxBufferSize() uint64 {
	c, err := GetContext()
	if err != nil {
		return 0
	}
	return c.Adapter.GetLimits().Limits.MaxBufferSize
}
