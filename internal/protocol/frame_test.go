package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"testing"
)

func TestHeaderLayout(t *testing.T) {
	header := NewHeader(300).MarshalBinary()

	if len(header) != HeaderSize {
		t.Fatalf("header length = %d, want %d", len(header), HeaderSize)
	}

	want := []byte{
		0x20, 0x00, 0x00, 0x00, // marker, big-endian
		0x44, 0x48, 0x49, 0x50, // "DHIP"
		0, 0, 0, 0, 0, 0, 0, 0, // 0.0 as big-endian double
		0x2c, 0x01, 0x00, 0x00, // 300, little-endian
		0, 0, 0, 0,
		0x2c, 0x01, 0x00, 0x00, // 300 again
		0, 0, 0, 0,
	}
	if !bytes.Equal(header, want) {
		t.Errorf("header = % x\nwant     % x", header, want)
	}
}

func TestParseHeader(t *testing.T) {
	tests := []struct {
		name    string
		data    func() []byte
		wantErr bool
		wantLen uint32
	}{
		{
			name:    "valid",
			data:    func() []byte { return NewHeader(17).MarshalBinary() },
			wantLen: 17,
		},
		{
			name:    "too short",
			data:    func() []byte { return NewHeader(17).MarshalBinary()[:20] },
			wantErr: true,
		},
		{
			name: "bad marker",
			data: func() []byte {
				b := NewHeader(17).MarshalBinary()
				b[0] = 0x21
				return b
			},
			wantErr: true,
		},
		{
			name: "bad tag",
			data: func() []byte {
				b := NewHeader(17).MarshalBinary()
				b[7] = 'Q'
				return b
			},
			wantErr: true,
		},
		{
			name: "length mismatch",
			data: func() []byte {
				b := NewHeader(17).MarshalBinary()
				binary.LittleEndian.PutUint32(b[24:28], 18)
				return b
			},
			wantErr: true,
		},
		{
			name: "oversized body",
			data: func() []byte {
				return NewHeader(MaxBodySize + 1).MarshalBinary()
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := ParseHeader(tt.data())
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseHeader() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && h.BodyLength != tt.wantLen {
				t.Errorf("BodyLength = %d, want %d", h.BodyLength, tt.wantLen)
			}
		})
	}
}

func TestEncodeRequest(t *testing.T) {
	object := int64(3077475800)
	req := &Request{
		ID:      7,
		Session: 12345,
		Method:  MethodOpenDoor,
		Params:  DoorParams{DoorIndex: 0},
		Object:  &object,
	}

	frame, err := Encode(req)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	h, err := ParseHeader(frame)
	if err != nil {
		t.Fatalf("ParseHeader() error = %v", err)
	}
	body := frame[HeaderSize:]
	if int(h.BodyLength) != len(body) {
		t.Fatalf("declared length %d, actual body %d", h.BodyLength, len(body))
	}

	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("body is not JSON: %v", err)
	}
	for _, key := range []string{"id", "session", "method", "params", "object"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("body missing %q: %s", key, body)
		}
	}
	params := decoded["params"].(map[string]any)
	for _, key := range []string{"DoorIndex", "Type", "UserID"} {
		if _, ok := params[key]; !ok {
			t.Errorf("params missing %q", key)
		}
	}
}

func TestEncodeOmitsObjectAndDefaultsParams(t *testing.T) {
	frame, err := Encode(&Request{ID: 2, Method: MethodGetDeviceType})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	body := string(frame[HeaderSize:])
	if want := `{"id":2,"session":0,"method":"magicBox.getDeviceType","params":{}}`; body != want {
		t.Errorf("body = %s, want %s", body, want)
	}
}

func TestBuildFrameRejectsOversizedBody(t *testing.T) {
	if _, err := BuildFrame(make([]byte, MaxBodySize+1)); err == nil {
		t.Error("expected error for oversized body")
	}
}
