package gpu

import (
	"fmt"
	"time"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/vram/mem"
)

// readbackTimeout bounds the MapAsync poll loop for one transfer.
const readbackTimeout = 2 * time.Second

// copyAlign is WebGPU's COPY_BUFFER_ALIGNMENT: copy, write and map
// sizes must be multiples of 4. Buffers are created padded and
// transfers padded to match; Allocation.Size stays as requested.
const copyAlign = 4

// padSize rounds n up to the copy alignment.
func padSize(n uint64) uint64 {
	return (n + copyAlign - 1) &^ (copyAlign - 1)
}

// padBytes returns data unchanged when already aligned, else a padded
// copy.
func padBytes(data []byte) []byte {
	if len(data)%copyAlign == 0 {
		return data
	}
	out := make([]byte, padSize(uint64(len(data))))
	copy(out, data)
	return out
}

// Upload copies host bytes into a buffer-backed allocation through the
// queue. len(data) must fit the allocation.
func Upload(a *mem.Allocation, data []byte) error {
	buf, ok := a.Handle.(*wgpu.Buffer)
	if !ok {
		return fmt.Errorf("allocation has no device buffer")
	}
	if uint64(len(data)) > a.Size {
		return fmt.Errorf("upload of %d bytes exceeds allocation of %d", len(data), a.Size)
	}

	c, err := GetContext()
	if err != nil {
		return err
	}
	c.Queue.WriteBuffer(buf, 0, padBytes(data))
	return nil
}

// Download reads a buffer-backed allocation back to the host. It blocks
// until the copy completes.
func Download(a *mem.Allocation) ([]byte, error) {
	buf, ok := a.Handle.(*wgpu.Buffer)
	if !ok {
		return nil, fmt.Errorf("allocation has no device buffer")
	}
	return downloadBuffer(buf, a.Size)
}

// downloadBuffer does the staging-buffer dance: copy into a mappable
// buffer, submit, poll until the map callback fires.
func downloadBuffer(buf *wgpu.Buffer, size uint64) ([]byte, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	padded := padSize(size)
	stagingBuf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "vram/readback",
		Size:  padded,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create staging buffer: %v", err)
	}
	defer stagingBuf.Destroy()

	encoder, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create command encoder: %v", err)
	}
	encoder.CopyBufferToBuffer(buf, 0, stagingBuf, 0, padded)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to finish command: %v", err)
	}
	c.Queue.Submit(cmd)

	done := make(chan struct{})
	var mapErr error

	err = stagingBuf.MapAsync(wgpu.MapModeRead, 0, padded, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("map failed: %v", status)
		}
		close(done)
	})
	if err != nil {
		return nil, fmt.Errorf("MapAsync failed: %v", err)
	}

	// Poll(false) so a wedged device cannot hang us past the timeout.
	timeout := time.After(readbackTimeout)
Loop:
	for {
		c.Device.Poll(false, nil)

		select {
		case <-done:
			break Loop
		case <-timeout:
			return nil, fmt.Errorf("download timed out after %v", readbackTimeout)
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if mapErr != nil {
		return nil, mapErr
	}

	data := stagingBuf.GetMappedRange(0, uint(padded))
	if data == nil {
		return nil, fmt.Errorf("failed to get mapped range")
	}

	result := make([]byte, size)
	copy(result, data)
	stagingBuf.Unmap()

	return result, nil
}
