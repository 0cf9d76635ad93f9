// Package mem defines kind- and context-tagged memory resources: objects
// that hand out raw allocations of one memory kind (device, unified,
// pinned, host), optionally ordered against an execution stream.
//
// A resource owns none of the memory it hands out. Every Allocation must
// be returned to the exact resource instance that produced it; using an
// allocation after it has been returned is undefined.
package mem

// Kind tags the physical flavour of memory a resource hands out. It is
// fixed when the resource is constructed and never changes.
type Kind int

const (
	Device Kind = iota // device-local, not reachable from the host
	Unified            // visible to both sides, synchronized on demand
	Pinned             // page-locked host memory, DMA-reachable from the device
	Host               // plain host memory, invisible to the device
)

var kindNames = map[Kind]string{
	Device:  "device",
	Unified: "unified",
	Pinned:  "pinned",
	Host:    "host",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// HostVisible reports whether the host may touch memory of this kind
// directly (through Allocation.Bytes).
func (k Kind) HostVisible() bool {
	return k == Unified || k == Pinned || k == Host
}

// DeviceVisible reports whether the device may touch memory of this kind
// without an intermediate copy.
func (k Kind) DeviceVisible() bool {
	return k == Device || k == Unified || k == Pinned
}
