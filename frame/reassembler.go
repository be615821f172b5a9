package frame

import "bytes"

const (
	startDelim = "<CMD>"
	endDelim   = "</CMD>"

	// DefaultMaxBuffer bounds how much unframed data is held before it is dropped.
	DefaultMaxBuffer = 1 << 20
)

// Reassembler accumulates bytes read from the peer and hands back complete
// frames. It is not safe for concurrent use; each connection owns one.
type Reassembler struct {
	buf     []byte
	max     int
	dropped uint64
}

// NewReassembler returns a Reassembler that discards its buffer once it grows
// past maxBuffer bytes without yielding a frame.
func NewReassembler(maxBuffer int) *Reassembler {
	if maxBuffer <= 0 {
		maxBuffer = DefaultMaxBuffer
	}
	return &Reassembler{max: maxBuffer}
}

// Write appends newly read bytes.
func (r *Reassembler) Write(p []byte) {
	r.buf = append(r.buf, p...)
}

// Buffered returns the number of bytes waiting for a frame boundary.
func (r *Reassembler) Buffered() int { return len(r.buf) }

// Dropped returns how many times an oversize buffer was discarded.
func (r *Reassembler) Dropped() uint64 { return r.dropped }

// Reset drops any partial data, used when a connection is replaced.
func (r *Reassembler) Reset() { r.buf = r.buf[:0] }

// Next removes and returns one complete frame. Call it repeatedly after each
// Write: a single read may carry zero, one or several frames.
//
// Frames come out in arrival order. A newline-terminated line is returned as a
// frame on its own so pipe-delimited status lines get through, even when a
// <CMD> frame is already buffered behind it. Other bytes in front of the first
// <CMD> are discarded.
func (r *Reassembler) Next() (Frame, bool) {
	for {
		start := indexFold(r.buf, startDelim)
		if start > 0 {
			if nl := bytes.IndexByte(r.buf[:start], '\n'); nl >= 0 {
				text := string(bytes.TrimSpace(r.buf[:nl]))
				r.consume(nl + 1)
				if text == "" {
					continue
				}
				return New(text), true
			}
		}
		if start >= 0 {
			bodyStart := start + len(startDelim)
			end := indexFold(r.buf[bodyStart:], endDelim)
			if end < 0 {
				if start > 0 {
					r.buf = append(r.buf[:0], r.buf[start:]...)
				}
				r.checkOverflow()
				return Frame{}, false
			}
			body := string(r.buf[bodyStart : bodyStart+end])
			r.consume(bodyStart + end + len(endDelim))
			return New(body), true
		}
		nl := bytes.IndexByte(r.buf, '\n')
		if nl < 0 {
			r.checkOverflow()
			return Frame{}, false
		}
		line := bytes.TrimSpace(r.buf[:nl])
		text := string(line)
		r.consume(nl + 1)
		if text == "" {
			continue
		}
		return New(text), true
	}
}

func (r *Reassembler) consume(n int) {
	r.buf = append(r.buf[:0], r.buf[n:]...)
}

func (r *Reassembler) checkOverflow() {
	if len(r.buf) > r.max {
		r.buf = r.buf[:0]
		r.dropped++
	}
}

// indexFold is bytes.Index with ASCII case folding for short delimiters.
func indexFold(b []byte, delim string) int {
	n := len(delim)
	for i := 0; i+n <= len(b); i++ {
		if b[i] != '<' {
			continue
		}
		if bytes.EqualFold(b[i:i+n], []byte(delim)) {
			return i
		}
	}
	return -1
}
