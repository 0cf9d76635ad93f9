//go:build js && wasm

package detector

import (
	"encoding/json"
	"fmt"
)

// Report stub for WASM (types defined but not populated).
type Report struct {
	WhenISO     string            `json:"when_iso"`
	Runtime     string            `json:"runtime"`
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
	GranularityBytes uint64 `json:"granularity_bytes"`
	BudgetBytes      uint64 `json:"budget_bytes"`
}

// Detect is not available under wasm; probe from the browser side.
func Detect() (*Report, error) {
	return nil, fmt.Errorf("detector: not supported under js/wasm")
}

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
