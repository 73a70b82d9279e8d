//go:build linux

package mainthread

import "golang.org/x/sys/unix"

func currentThreadID() int {
	return unix.Gettid()
}
