//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package extractor

import (
	"errors"
	"time"
)

var errUnsupported = errors.New("not supported on this platform")

func setSymlinkTime(string, time.Time) error { return errUnsupported }

func mkfifo(string, uint32) error { return errUnsupported }
