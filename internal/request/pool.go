package request

import "sync"

const readBufferSize = 4096

// readBuffers holds the scratch buffers used for connection reads.
var readBuffers = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, readBufferSize)
		return &buf
	},
}

// getBuffer returns a 4KB read buffer from the pool
func getBuffer() []byte {
	return *(readBuffers.Get().(*[]byte))
}

// putBuffer returns a buffer to the pool
func putBuffer(buf []byte) {
	if cap(buf) != readBufferSize {
		// Non-standard size, let GC handle it
		return
	}
	buf = buf[:readBufferSize]
	readBuffers.Put(&buf)
}
