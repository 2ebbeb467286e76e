package trfb

import (
	"bytes"
	"testing"
)

func TestDecodeProtocolVersion(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{"v8", "RFB 003.008\n", 8, false},
		{"v7", "RFB 003.007\n", 7, false},
		{"v3", "RFB 003.003\n", 3, false},
		{"unknown minor falls back to 3", "RFB 003.005\n", 3, false},
		{"wrong length", "RFB 003.008", 0, true},
		{"malformed prefix", "VNC 003.008\n", 0, true},
		{"non-digit", "RFB abc.def\n", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeProtocolVersion([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Fatalf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestEncodeProtocolVersion(t *testing.T) {
	got := EncodeProtocolVersion(8)
	want := []byte("RFB 003.008\n")
	if !bytes.Equal(got, want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	if len(got) != protocolVersionLen {
		t.Fatalf("len = %d, want %d", len(got), protocolVersionLen)
	}
}

func TestPixelFormatRoundTrip(t *testing.T) {
	f := serverOfferedFormat()
	wire := EncodePixelFormat(f)
	if len(wire) != pixelFormatWireLen {
		t.Fatalf("len = %d, want %d", len(wire), pixelFormatWireLen)
	}
	got, err := DecodePixelFormat(wire)
	if err != nil {
		t.Fatal(err)
	}
	if got != f {
		t.Fatalf("got %+v, want %+v", got, f)
	}
}

// TestFramebufferUpdateRaw reproduces the FramebufferUpdateRequest
// scenario: a server framebuffer with pixels (10,20,30) and (40,50,60)
// rendered in the default bpp=32 layout (RedShift=16, GreenShift=8,
// BlueShift=0) and sent little-endian.
func TestFramebufferUpdateRaw(t *testing.T) {
	fb, err := NewFramebuffer(2, 1, 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := fb.SetPixel(0, 0, 0x000A141E); err != nil {
		t.Fatal(err)
	}
	if err := fb.SetPixel(1, 0, 0x0028323C); err != nil {
		t.Fatal(err)
	}

	header := encodeFramebufferUpdateHeader(1)
	rect := encodeRectangleHeader(0, 0, 2, 1)
	row := fb.RowSlice(0, 0, 2)

	var got bytes.Buffer
	got.Write(header)
	got.Write(rect)
	got.Write(row)

	want := []byte{
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x02, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00,
		0x1E, 0x14, 0x0A, 0x00,
		0x3C, 0x32, 0x28, 0x00,
	}
	if !bytes.Equal(got.Bytes(), want) {
		t.Fatalf("got % X, want % X", got.Bytes(), want)
	}
}

func TestEncodeServerInit(t *testing.T) {
	buf := EncodeServerInit(640, 480, serverOfferedFormat(), "TEST")
	if len(buf) != 4+pixelFormatWireLen+4+4 {
		t.Fatalf("unexpected length %d", len(buf))
	}
	if buf[0] != 0x02 || buf[1] != 0x80 {
		t.Fatalf("width encoding wrong: % X", buf[0:2])
	}
	if buf[2] != 0x01 || buf[3] != 0xE0 {
		t.Fatalf("height encoding wrong: % X", buf[2:4])
	}
	name := buf[len(buf)-4:]
	if string(name) != "TEST" {
		t.Fatalf("name = %q, want TEST", name)
	}
}
