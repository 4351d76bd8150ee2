//go:build !linux

package host

import (
	"fmt"
	"os"

	"github.com/tjfontaine/televisit/internal/core/ports"
)

// openCapture is a stub for platforms without V4L2.
func openCapture(path string) (*os.File, error) {
	return nil, fmt.Errorf("camera capture unsupported on this platform: %w", ports.ErrDeviceNotFound)
}
