//go:build unix

package procctl

import "golang.org/x/sys/unix"

func terminateGroup(pgid int) error {
	return unix.Kill(-pgid, unix.SIGTERM)
}
