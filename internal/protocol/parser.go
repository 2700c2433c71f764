package protocol

import (
	"bytes"
	"encoding/hex"
	"encoding/json"

	"github.com/muurk/vtobridge/internal/logging"
	"go.uber.org/zap"
)

// Decoder turns a DHIP byte stream into JSON message bodies.
//
// The primary path trusts the header: it waits until HeaderSize+BodyLength
// bytes are buffered and emits the body. Anything that does not fit that
// shape (bytes before a header, corrupt headers, bodies that are not valid
// JSON, a declared length that runs into the next header) is handed to
// ScanMessages instead. Every fallback is logged and counted.
//
// A Decoder is not safe for concurrent use; each connection owns one.
type Decoder struct {
	buf []byte

	// Fallbacks counts how many times scan-based recovery was used
	Fallbacks int
	// Misses counts fragments that looked like JSON but failed to parse
	Misses int
}

// NewDecoder returns an empty stream decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Buffered returns the number of bytes held back waiting for more input
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Decode appends chunk to the internal buffer and returns every complete
// message found so far. Partial frames stay buffered for the next call.
func (d *Decoder) Decode(chunk []byte) []json.RawMessage {
	d.buf = append(d.buf, chunk...)

	var out []json.RawMessage
	for len(d.buf) > 0 {
		idx := bytes.Index(d.buf, headerMagic)
		if idx < 0 {
			// No header in the buffer. Hold back a possible partial marker
			// and scan the rest.
			keep := partialMagicSuffix(d.buf)
			if keep == len(d.buf) {
				break
			}
			out = append(out, d.salvage(d.buf[:len(d.buf)-keep], "headerless data")...)
			d.buf = d.buf[len(d.buf)-keep:]
			break
		}

		if idx > 0 {
			out = append(out, d.salvage(d.buf[:idx], "bytes before header")...)
			d.buf = d.buf[idx:]
		}

		if len(d.buf) < HeaderSize {
			break
		}

		header, err := ParseHeader(d.buf)
		if err != nil {
			logging.Warn("Corrupt DHIP header, resynchronising",
				zap.Error(err),
				zap.String("hex", hex.EncodeToString(d.buf[:HeaderSize])),
			)
			d.buf = d.buf[len(headerMagic):]
			continue
		}

		end := HeaderSize + int(header.BodyLength)

		// A header inside the declared body means the length is wrong
		if next := bytes.Index(d.buf[HeaderSize:], headerMagic); next >= 0 && HeaderSize+next < end {
			out = append(out, d.salvage(d.buf[HeaderSize:HeaderSize+next], "declared length overruns next header")...)
			d.buf = d.buf[HeaderSize+next:]
			continue
		}

		if len(d.buf) < end {
			break
		}

		body := d.buf[HeaderSize:end]
		if json.Valid(body) {
			out = append(out, clone(body))
		} else {
			out = append(out, d.salvage(body, "body is not valid JSON")...)
		}
		d.buf = d.buf[end:]
	}

	if len(d.buf) == 0 {
		d.buf = nil
	}
	return out
}

// Reset drops any buffered bytes
func (d *Decoder) Reset() {
	d.buf = nil
}

func (d *Decoder) salvage(data []byte, reason string) []json.RawMessage {
	msgs, misses := ScanMessages(data)
	d.Fallbacks++
	d.Misses += misses

	logging.Warn("Falling back to scan-based frame recovery",
		zap.String("reason", reason),
		zap.Int("length", len(data)),
		zap.Int("recovered", len(msgs)),
		zap.Int("misses", misses),
	)
	return msgs
}

// ScanMessages recovers JSON objects from degraded input. The data is split
// on NUL bytes and each fragment's first '{' to last '}' span is parsed on
// its own. Fragments that fail to parse are counted as misses and skipped.
func ScanMessages(data []byte) ([]json.RawMessage, int) {
	var out []json.RawMessage
	misses := 0

	for _, fragment := range bytes.Split(data, []byte{0x00}) {
		start := bytes.IndexByte(fragment, '{')
		if start < 0 {
			continue
		}
		end := bytes.LastIndexByte(fragment, '}')
		if end < start {
			misses++
			logging.LogRawBytes("Unterminated JSON fragment", fragment)
			continue
		}

		candidate := fragment[start : end+1]
		if !json.Valid(candidate) {
			misses++
			logging.LogRawBytes("Unparseable JSON fragment", candidate)
			continue
		}
		out = append(out, clone(candidate))
	}

	return out, misses
}

// partialMagicSuffix returns how many trailing bytes of buf could be the
// start of a header marker.
func partialMagicSuffix(buf []byte) int {
	n := len(headerMagic) - 1
	if len(buf) < n {
		n = len(buf)
	}
	for ; n > 0; n-- {
		if bytes.HasSuffix(buf, headerMagic[:n]) {
			return n
		}
	}
	return 0
}

func clone(b []byte) json.RawMessage {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

