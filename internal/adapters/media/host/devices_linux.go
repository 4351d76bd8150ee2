//go:build linux

package host

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"

	"github.com/tjfontaine/televisit/internal/core/ports"
)

// openCapture opens a V4L2 node. The open handle is what holds the camera.
func openCapture(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|syscall.O_NONBLOCK, 0)
	if err == nil {
		return f, nil
	}
	switch {
	case errors.Is(err, fs.ErrPermission):
		return nil, fmt.Errorf("open %s: %w", path, ports.ErrPermissionDenied)
	case errors.Is(err, syscall.EBUSY):
		return nil, fmt.Errorf("open %s: %w", path, ports.ErrDeviceBusy)
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, syscall.ENODEV), errors.Is(err, syscall.ENXIO):
		return nil, fmt.Errorf("open %s: %w", path, ports.ErrDeviceNotFound)
	default:
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
}
