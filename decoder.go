package solarmanv5

import "encoding/binary"

// Decoder is the streaming frame decoder: an append-only accumulation
// buffer that extracts one complete V5 frame at a time from a byte
// stream, with no resynchronization on malformed input. It does not
// itself verify checksum or control code — that is ParseResponse's job —
// which keeps Decoder's per-frame decision O(1) and lets framing errors
// surface before content errors.
//
// Decoder is not safe for concurrent use; it is driven by a single reader
// goroutine per connection (see transport.go).
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty streaming decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write appends newly-read bytes to the decoder's buffer. It never fails.
func (d *Decoder) Write(b []byte) {
	d.buf = append(d.buf, b...)
}

// Next attempts to extract exactly one complete frame from the
// accumulated buffer. It returns (frame, true, nil) when a full frame was
// available and has been consumed from the buffer, (nil, false, nil) when
// more data is needed, and (nil, false, err) on malformed input — at which
// point the caller must treat the connection as unusable: there is no
// resynchronization on malformed input.
func (d *Decoder) Next() (frame []byte, ok bool, err error) {
	readable := len(d.buf)
	if readable < 3 {
		return nil, false, nil
	}

	if d.buf[0] != startByte {
		return nil, false, newDecodeError("InvalidStartByte", int(d.buf[0]))
	}

	length := binary.LittleEndian.Uint16(d.buf[1:3])
	if length < 1 {
		return nil, false, newDecodeError("InvalidLength", int(length))
	}

	size := int(length) + 13
	if size > maxFrameSize {
		return nil, false, newDecodeError("FrameTooLarge", size)
	}

	if readable < size {
		return nil, false, nil
	}

	frame = append([]byte(nil), d.buf[:size]...)
	d.buf = d.buf[size:]
	return frame, true, nil
}

// Feed is a convenience wrapper for callers driving their own event loop
// rather than transport.go's connection goroutine: it appends b, then
// drains every complete frame
// currently available, returning them along with the number of input bytes
// consumed (always len(b), since Write never rejects input) and the first
// decode error encountered, if any. On error, any frames successfully
// drained before the error are still returned.
func (d *Decoder) Feed(b []byte) (frames [][]byte, consumed int, err error) {
	d.Write(b)
	for {
		frame, ok, ferr := d.Next()
		if ferr != nil {
			return frames, len(b), ferr
		}
		if !ok {
			return frames, len(b), nil
		}
		frames = append(frames, frame)
	}
}

// Pending reports how many unconsumed bytes remain buffered. Used by the
// connection goroutine to detect an IncompleteFrameAtEOF condition when
// the transport closes mid-frame.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// errIncompleteFrameAtEOF reports the remaining unconsumed byte count when
// the transport closes with a non-empty buffer after all complete frames
// have been drained.
func errIncompleteFrameAtEOF(remaining int) *DecodeError {
	return newDecodeError("IncompleteFrameAtEOF", remaining)
}
