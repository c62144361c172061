package heartbeat

import (
	"fmt"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

func readPlatform(info *HostInfo) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		info.Arch = unix.ByteSliceToString(uts.Machine[:])
		info.Platform = fmt.Sprintf("%s-%s-%s",
			unix.ByteSliceToString(uts.Sysname[:]),
			unix.ByteSliceToString(uts.Release[:]),
			unix.ByteSliceToString(uts.Machine[:]))
	}

	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return
	}
	info.Uptime = (time.Duration(si.Uptime) * time.Second).String()
	ram := uint64(si.Totalram) * uint64(si.Unit)
	info.Hardware = fmt.Sprintf("%d CPUs, %s RAM", runtime.NumCPU(), humanize.IBytes(ram))
}
