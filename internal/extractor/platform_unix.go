//go:build linux || darwin || freebsd || netbsd || openbsd

package extractor

import (
	"time"

	"golang.org/x/sys/unix"
)

func setSymlinkTime(name string, t time.Time) error {
	tv := unix.NsecToTimeval(t.UnixNano())
	return unix.Lutimes(name, []unix.Timeval{tv, tv})
}

func mkfifo(name string, mode uint32) error {
	return unix.Mkfifo(name, mode)
}
