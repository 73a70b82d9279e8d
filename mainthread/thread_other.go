//go:build !linux

package mainthread

import (
	"bytes"
	"runtime"
	"strconv"
)

var goroutinePrefix = []byte("goroutine ")

// currentThreadID returns the calling goroutine's id. The loop goroutine is locked to its thread
// for as long as it runs, so matching it identifies the dispatcher's thread without a
// portable OS thread id.
func currentThreadID() int {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, goroutinePrefix)
	if i := bytes.IndexByte(buf, ' '); i > 0 {
		buf = buf[:i]
	}
	id, err := strconv.Atoi(string(buf))
	if err != nil {
		return -1
	}
	return id
}
