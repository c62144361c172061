//go:build !linux

package heartbeat

import (
	"fmt"
	"runtime"
)

func readPlatform(info *HostInfo) {
	info.Hardware = fmt.Sprintf("%d CPUs", runtime.NumCPU())
}
