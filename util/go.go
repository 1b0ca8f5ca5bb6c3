package util

import (
	"bytes"
	"runtime"
	"strconv"
)

// GoroutineID parses the current goroutine's id out of its stack header.
// It is slow; keep it off hot paths.
func GoroutineID() int {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, _ := strconv.Atoi(string(b))
	return id
}
