// vraminfo prints the detector report and optionally runs an allocation
// smoke pass through every resource kind that is available.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"

	"github.com/openfluke/vram/adaptor"
	"github.com/openfluke/vram/detector"
	"github.com/openfluke/vram/gpu"
	"github.com/openfluke/vram/mem"
	"github.com/openfluke/vram/pool"
)

type options struct {
	BudgetMB uint64 `envconfig:"VRAM_BUDGET_MB" default:"128"`
	Smoke    bool   `envconfig:"VRAM_SMOKE" default:"true"`
	Verbose  bool   `envconfig:"VRAM_VERBOSE" default:"false"`
}

func main() {
	var opts options
	if err := envconfig.Process("", &opts); err != nil {
		fmt.Fprintf(os.Stderr, "bad environment: %v\n", err)
		os.Exit(1)
	}

	logger := zap.NewNop()
	if opts.Verbose {
		l, err := zap.NewDevelopment()
		if err == nil {
			logger = l
		}
	}
	defer logger.Sync()
	gpu.SetLogger(logger)

	report, err := detector.DetectJSON()
	if err != nil {
		fmt.Fprintf(os.Stderr, "no usable GPU adapter: %v\n", err)
	} else {
		fmt.Println(report)
	}

	if !opts.Smoke {
		return
	}

	if err := smokeHost(logger); err != nil {
		fmt.Fprintf(os.Stderr, "host smoke failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("host/pool/adaptor: ok")

	if err == nil {
		if gerr := smokeGPU(logger, opts.BudgetMB*1024*1024); gerr != nil {
			fmt.Fprintf(os.Stderr, "gpu smoke failed: %v\n", gerr)
			os.Exit(1)
		}
		fmt.Println("device/pinned/unified/stream: ok")
	}
}

// smokeHost exercises the pure host-side stack: tracked host resource,
// pool, LRU cache and the arrow adaptor.
func smokeHost(logger *zap.Logger) error {
	host := mem.NewTracking(mem.NewHostResource(), logger)

	p := pool.New(host, 16*1024*1024)
	a, err := p.Allocate(1024, 0)
	if err != nil {
		return fmt.Errorf("pool allocate: %w", err)
	}
	for i := range a.Bytes {
		a.Bytes[i] = byte(i)
	}
	if err := p.Deallocate(a); err != nil {
		return fmt.Errorf("pool deallocate: %w", err)
	}
	if err := p.Close(); err != nil {
		return fmt.Errorf("pool close: %w", err)
	}

	cache, err := pool.NewCache(mem.NewHostResource(), 32)
	if err != nil {
		return err
	}
	a, err = cache.Allocate(4096, 0)
	if err != nil {
		return fmt.Errorf("cache allocate: %w", err)
	}
	if err := cache.Deallocate(a); err != nil {
		return fmt.Errorf("cache deallocate: %w", err)
	}
	if err := cache.Close(); err != nil {
		return fmt.Errorf("cache close: %w", err)
	}

	arrow, err := adaptor.New(mem.NewHostResource())
	if err != nil {
		return err
	}
	buf := arrow.Allocate(512)
	buf = arrow.Reallocate(2048, buf)
	arrow.Free(buf)

	return host.Close()
}

// smokeGPU touches every GPU-backed kind once.
func smokeGPU(logger *zap.Logger, budget uint64) error {
	dev, err := gpu.NewDeviceResource(budget)
	if err != nil {
		return err
	}
	a, err := dev.Allocate(64*1024, 0)
	if err != nil {
		return fmt.Errorf("device allocate: %w", err)
	}
	payload := make([]byte, 64*1024)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if err := gpu.Upload(a, payload); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	back, err := gpu.Download(a)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	if back[0] != payload[0] || back[len(back)-1] != payload[len(payload)-1] {
		return fmt.Errorf("device round trip mismatch")
	}
	if err := dev.Deallocate(a); err != nil {
		return fmt.Errorf("device deallocate: %w", err)
	}
	if err := dev.Close(); err != nil {
		return err
	}

	pinned, err := gpu.NewPinnedResource()
	if err != nil {
		return err
	}
	a, err = pinned.Allocate(4096, 0)
	if err != nil {
		return fmt.Errorf("pinned allocate: %w", err)
	}
	copy(a.Bytes, payload)
	if err := pinned.Upload(a); err != nil {
		return fmt.Errorf("pinned upload: %w", err)
	}
	if err := pinned.Download(a); err != nil {
		return fmt.Errorf("pinned download: %w", err)
	}
	if err := pinned.Deallocate(a); err != nil {
		return fmt.Errorf("pinned deallocate: %w", err)
	}
	if err := pinned.Close(); err != nil {
		return err
	}

	s := mem.NewStream("smoke")
	defer s.Close()

	unified, err := gpu.NewUnifiedResource()
	if err != nil {
		return err
	}
	a, err = unified.Allocate(4096, 0)
	if err != nil {
		return fmt.Errorf("unified allocate: %w", err)
	}
	copy(a.Bytes, payload)
	fence, err := unified.Flush(s, a)
	if err != nil {
		return fmt.Errorf("unified flush: %w", err)
	}
	if err := fence.Wait(context.Background()); err != nil {
		return err
	}
	if _, err := unified.Invalidate(s, a); err != nil {
		return fmt.Errorf("unified invalidate: %w", err)
	}
	if err := s.Synchronize(context.Background()); err != nil {
		return err
	}
	if err := unified.Deallocate(a); err != nil {
		return fmt.Errorf("unified deallocate: %w", err)
	}
	if err := unified.Close(); err != nil {
		return err
	}

	sp, err := gpu.NewStreamPool(s, budget)
	if err != nil {
		return err
	}
	a, err = sp.AllocateAsync(s, 64*1024, 0)
	if err != nil {
		return fmt.Errorf("stream allocate: %w", err)
	}
	if err := a.Ready().Wait(context.Background()); err != nil {
		return err
	}
	if a.Err() != nil {
		return fmt.Errorf("stream allocate: %w", a.Err())
	}
	if err := sp.DeallocateAsync(s, a); err != nil {
		return fmt.Errorf("stream deallocate: %w", err)
	}
	return sp.Close()
}
