package render

import (
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/procfs"
)

const (
	// constrainedMemory is the total memory under which the host counts as constrained.
	constrainedMemory = 2 << 30

	// minAvailableMemory is the headroom needed to launch a browser.
	minAvailableMemory = 512 << 20

	// recycleThreshold is the number of pages rendered before the browser is relaunched.
	recycleThreshold = 50

	// constrainedRecycleThreshold replaces recycleThreshold on constrained hosts.
	constrainedRecycleThreshold = 20
)

// errNoMeminfo is returned by the memory probe on systems without /proc/meminfo.
var errNoMeminfo = errors.New("memory information unavailable")

// MemInfo is a snapshot of host memory in bytes.
type MemInfo struct {
	Total     uint64
	Available uint64
}

// MemoryProbe reports host memory.
type MemoryProbe func() (MemInfo, error)

// ProcMeminfo reads /proc/meminfo.
func ProcMeminfo() (MemInfo, error) {
	return readMeminfo(procfs.DefaultMountPoint)
}

// readMeminfo reads meminfo from the proc filesystem mounted at mountPoint.
func readMeminfo(mountPoint string) (MemInfo, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return MemInfo{}, fmt.Errorf("%w: %w", errNoMeminfo, err)
	}
	m, err := fs.Meminfo()
	if err != nil {
		return MemInfo{}, fmt.Errorf("%w: %w", errNoMeminfo, err)
	}
	if m.MemTotalBytes == nil || m.MemAvailableBytes == nil {
		return MemInfo{}, errNoMeminfo
	}
	return MemInfo{Total: *m.MemTotalBytes, Available: *m.MemAvailableBytes}, nil
}

// Environment describes the deployment target of the process.
type Environment struct {
	// Isolated is true inside a container, where the browser sandbox
	// cannot be set up and is disabled.
	Isolated bool

	// Constrained is true on isolated or small hosts. It lowers the
	// browser recycle threshold.
	Constrained bool
}

// RecycleThreshold returns the number of pages after which the browser is relaunched.
func (e Environment) RecycleThreshold() int64 {
	if e.Constrained {
		return constrainedRecycleThreshold
	}
	return recycleThreshold
}

// DetectEnvironment inspects the running host.
func DetectEnvironment(probe MemoryProbe) Environment {
	exists := func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	}
	var total uint64
	if probe != nil {
		if info, err := probe(); err == nil {
			total = info.Total
		}
	}
	return detectEnvironment(exists, os.Getenv, total)
}

func detectEnvironment(exists func(string) bool, getenv func(string) string, totalMemory uint64) Environment {
	isolated := exists("/.dockerenv") ||
		exists("/run/.containerenv") ||
		getenv("KUBERNETES_SERVICE_HOST") != ""
	return Environment{
		Isolated:    isolated,
		Constrained: isolated || (totalMemory > 0 && totalMemory < constrainedMemory),
	}
}
