//go:build !unix

package procctl

import "errors"

func terminateGroup(pgid int) error {
	return errors.New("process groups are not supported on this platform")
}
