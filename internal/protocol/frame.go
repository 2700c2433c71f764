package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// DHIP header constants
const (
	// HeaderSize is the fixed size of the DHIP header preceding every JSON body
	HeaderSize = 32

	// ProtocolMarker is the first header word (big-endian)
	ProtocolMarker uint32 = 0x20000000

	// StreamTag is the second header word, ASCII "DHIP" (big-endian)
	StreamTag uint32 = 0x44484950

	// MaxBodySize is a sanity limit on the declared body length. Event batches
	// from busy VTOs reach a few tens of kilobytes.
	MaxBodySize = 4 << 20
)

// headerMagic is the byte form of ProtocolMarker + StreamTag, used to locate
// frame boundaries in the inbound stream.
var headerMagic = []byte{0x20, 0x00, 0x00, 0x00, 'D', 'H', 'I', 'P'}

// Header represents a parsed DHIP frame header
//
// Layout:
//
//	[0-3]   0x20000000     Protocol marker (big-endian)
//	[4-7]   "DHIP"         Stream tag (big-endian 0x44484950)
//	[8-15]  0.0            Reserved/sequence, IEEE-754 double (big-endian)
//	[16-19] body length    Little-endian uint32
//	[20-23] 0              Reserved (little-endian)
//	[24-27] body length    Little-endian uint32 (duplicate)
//	[28-31] 0              Reserved (little-endian)
type Header struct {
	Marker     uint32
	Tag        uint32
	Sequence   float64
	BodyLength uint32
	Reserved1  uint32
	TotalLen   uint32
	Reserved2  uint32
}

// NewHeader builds the header this client sends for a body of n bytes
func NewHeader(n int) Header {
	return Header{
		Marker:     ProtocolMarker,
		Tag:        StreamTag,
		BodyLength: uint32(n),
		TotalLen:   uint32(n),
	}
}

// MarshalBinary encodes the header into its 32-byte wire form
func (h Header) MarshalBinary() []byte {
	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Marker)
	binary.BigEndian.PutUint32(buf[4:8], h.Tag)
	binary.BigEndian.PutUint64(buf[8:16], math.Float64bits(h.Sequence))
	binary.LittleEndian.PutUint32(buf[16:20], h.BodyLength)
	binary.LittleEndian.PutUint32(buf[20:24], h.Reserved1)
	binary.LittleEndian.PutUint32(buf[24:28], h.TotalLen)
	binary.LittleEndian.PutUint32(buf[28:32], h.Reserved2)
	return buf
}

// ParseHeader decodes a DHIP header from the first HeaderSize bytes of data
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("header too short: %d bytes (minimum %d)", len(data), HeaderSize)
	}

	h := Header{
		Marker:     binary.BigEndian.Uint32(data[0:4]),
		Tag:        binary.BigEndian.Uint32(data[4:8]),
		Sequence:   math.Float64frombits(binary.BigEndian.Uint64(data[8:16])),
		BodyLength: binary.LittleEndian.Uint32(data[16:20]),
		Reserved1:  binary.LittleEndian.Uint32(data[20:24]),
		TotalLen:   binary.LittleEndian.Uint32(data[24:28]),
		Reserved2:  binary.LittleEndian.Uint32(data[28:32]),
	}

	if err := h.Validate(); err != nil {
		return Header{}, err
	}
	return h, nil
}

// Validate checks the fields a reader relies on to frame the stream
func (h Header) Validate() error {
	if h.Marker != ProtocolMarker {
		return fmt.Errorf("invalid protocol marker: 0x%08x (expected 0x%08x)", h.Marker, ProtocolMarker)
	}
	if h.Tag != StreamTag {
		return fmt.Errorf("invalid stream tag: 0x%08x (expected 0x%08x)", h.Tag, StreamTag)
	}
	if h.BodyLength > MaxBodySize {
		return fmt.Errorf("body length %d exceeds maximum %d", h.BodyLength, MaxBodySize)
	}
	if h.TotalLen != h.BodyLength {
		return fmt.Errorf("length mismatch: body=%d total=%d", h.BodyLength, h.TotalLen)
	}
	return nil
}

// String returns a debug representation of the header
func (h Header) String() string {
	return fmt.Sprintf("Header{marker=0x%08x, tag=0x%08x, len=%d}", h.Marker, h.Tag, h.BodyLength)
}

// BuildFrame wraps a JSON body in a DHIP header
func BuildFrame(body []byte) ([]byte, error) {
	if len(body) > MaxBodySize {
		return nil, fmt.Errorf("body too large: %d bytes (max %d)", len(body), MaxBodySize)
	}

	frame := make([]byte, 0, HeaderSize+len(body))
	frame = append(frame, NewHeader(len(body)).MarshalBinary()...)
	frame = append(frame, body...)
	return frame, nil
}

// Encode marshals an RPC request and wraps it in a DHIP frame
func Encode(req *Request) ([]byte, error) {
	if req.Params == nil {
		req.Params = struct{}{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request %q: %w", req.Method, err)
	}

	return BuildFrame(body)
}
