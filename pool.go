package mqttclient

import "sync"

// maxPooledEncoder caps the scratch buffers kept for reuse so one large
// publish does not pin its buffer forever.
const maxPooledEncoder = 64 * 1024

var encoderPool = sync.Pool{
	New: func() any { return &encoder{} },
}

func getEncoder() *encoder {
	e := encoderPool.Get().(*encoder)
	e.buf = e.buf[:0]
	return e
}

func putEncoder(e *encoder) {
	if cap(e.buf) > maxPooledEncoder {
		return
	}
	encoderPool.Put(e)
}
