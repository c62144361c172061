package heartbeat

import "runtime"

// HostInfo describes the machine the scheduler runs on.
type HostInfo struct {
	Uptime   string
	Arch     string
	Platform string
	Hardware string
}

// ReadHostInfo inspects the local machine. Fields that cannot be read are
// left empty.
func ReadHostInfo() HostInfo {
	info := HostInfo{Arch: runtime.GOARCH, Platform: runtime.GOOS}
	readPlatform(&info)
	return info
}
