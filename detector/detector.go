//go:build !(js && wasm)

// Package detector probes the adapter/device and reports what the
// memory resources have to work with: identity, buffer limits, a
// recommended allocation granularity and a soft budget.
package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

/* ---------- public API ---------- */

// Report is a portable summary of the current adapter/device caps.
type Report struct {
	WhenISO     string            `json:"when_iso"`
	Runtime     string            `json:"runtime"` // "native" or "wasm" (best-effort)
	Backend     string            `json:"backend"`
	AdapterType string            `json:"adapter_type"`
	VendorID    string            `json:"vendor_id_hex"`
	DeviceID    string            `json:"device_id_hex"`
	Name        string            `json:"name"`
	Driver      string            `json:"driver"`
	Recommended Recommendations   `json:"recommended"`
	Limits      Limits            `json:"limits"`
	Features    []string          `json:"features"`
	Env         map[string]string `json:"env,omitempty"`
}

type Limits struct {
	MaxBufferSize               uint64 `json:"max_buffer_size"`
	MaxStorageBufferBindingSize uint64 `json:"max_storage_buffer_binding_size"`
}

type Recommendations struct {
	// Allocation granularity in bytes; resources round internal blocks
	// up to this.
	GranularityBytes uint64 `json:"granularity_bytes"`

	// Soft VRAM budget in bytes for device resources and stream pools.
	BudgetBytes uint64 `json:"budget_bytes"`
}

// DetectJSON runs a probe and returns the JSON string.
func DetectJSON() (string, error) {
	rep, err := Detect()
	if err != nil {
		return "", err
	}
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Detect probes the default adapter/device and synthesizes a report.
func Detect() (*Report, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("wgpu.CreateInstance returned nil")
	}
	defer inst.Release()

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("request adapter: %w", err)
	}
	if adapter == nil {
		return nil, fmt.Errorf("no adapter")
	}
	defer adapter.Release()

	info := adapter.GetInfo()
	limits := adapter.GetLimits()

	var feats []string
	for _, f := range adapter.EnumerateFeatures() {
		feats = append(feats, f.String())
	}

	rep := &Report{
		WhenISO:     time.Now().UTC().Format(time.RFC3339),
		Runtime:     detectRuntime(),
		Backend:     info.BackendType.String(),
		AdapterType: info.AdapterType.String(),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Name:        strings.TrimSpace(info.Name),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Limits: Limits{
			MaxBufferSize:               limits.Limits.MaxBufferSize,
			MaxStorageBufferBindingSize: limits.Limits.MaxStorageBufferBindingSize,
		},
		Features: feats,
		Recommended: Recommendations{
			GranularityBytes: chooseGranularity(limits),
			BudgetBytes:      chooseBudget(limits),
		},
		Env: pickEnv([]string{"VRAM_BUDGET_MB"}),
	}
	return rep, nil
}

/* ---------- helpers ---------- */

// chooseGranularity picks a block rounding size: 256 bytes everywhere
// today, kept behind a function so tiny adapters can shrink it later.
func chooseGranularity(l wgpu.SupportedLimits) uint64 {
	g := uint64(256)
	if l.Limits.MaxBufferSize > 0 && l.Limits.MaxBufferSize < g {
		g = l.Limits.MaxBufferSize
	}
	return g
}

// chooseBudget defaults to 128 MiB, capped at a quarter of the biggest
// buffer the adapter admits, overridable via VRAM_BUDGET_MB.
func chooseBudget(l wgpu.SupportedLimits) uint64 {
	budget := uint64(128 * 1024 * 1024)
	if mbStr := os.Getenv("VRAM_BUDGET_MB"); mbStr != "" {
		if mb, err := strconv.Atoi(mbStr); err == nil && mb > 0 {
			budget = uint64(mb) * 1024 * 1024
		}
	}
	if max := l.Limits.MaxBufferSize; max > 0 && budget > max/4 && max/4 > 0 {
		budget = max / 4
	}
	return budget
}

func detectRuntime() string {
	if runtime.GOOS == "js" {
		return "wasm"
	}
	return "native"
}

func pickEnv(keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
