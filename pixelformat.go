package trfb

import "math/bits"

// PixelFormat is the 16-byte RFB pixel format record: bits-per-pixel,
// depth, endianness, true-color flag, per-channel max value (one less
// than a power of two, defining the mask width) and per-channel shift.
type PixelFormat struct {
	BPP       uint8 // 8, 16, or 32
	Depth     uint8
	BigEndian bool
	TrueColor bool

	RedMax, GreenMax, BlueMax       uint16
	RedShift, GreenShift, BlueShift uint8
}

// bytesPerPixel returns BPP/8, the Framebuffer's bpp unit.
func (f PixelFormat) bytesPerPixel() int {
	return int(f.BPP) / 8
}

// channelBits returns the number of bits a max value of M occupies,
// i.e. log2(M+1). M is required to be one less than a power of two.
func channelBits(max uint16) int {
	if max == 0 {
		return 0
	}
	return bits.Len16(max)
}

// defaultFormat returns the default pixel format for a Framebuffer with
// the given bpp in bytes, per spec.md §3:
//
//	1 byte: indexed (6x6x6 palette), true-color false
//	2 bytes: RGB565
//	4 bytes: RGB888 in the low 24 bits
func defaultFormat(bppBytes int) PixelFormat {
	switch bppBytes {
	case 1:
		return PixelFormat{
			BPP:       8,
			Depth:     8,
			BigEndian: hostBigEndian,
			TrueColor: false,
		}
	case 2:
		return PixelFormat{
			BPP:        16,
			Depth:      16,
			BigEndian:  hostBigEndian,
			TrueColor:  true,
			RedMax:     0x1F,
			GreenMax:   0x3F,
			BlueMax:    0x1F,
			RedShift:   11,
			GreenShift: 5,
			BlueShift:  0,
		}
	case 4:
		return PixelFormat{
			BPP:        32,
			Depth:      24,
			BigEndian:  hostBigEndian,
			TrueColor:  true,
			RedMax:     0xFF,
			GreenMax:   0xFF,
			BlueMax:    0xFF,
			RedShift:   16,
			GreenShift: 8,
			BlueShift:  0,
		}
	default:
		return PixelFormat{}
	}
}

// rgb332Format returns the explicit 3-3-2 true-color variant of the
// 1-byte layout (rmask set, per spec.md §3), reachable through
// NewFramebufferOfFormat rather than the NewFramebuffer default.
func rgb332Format() PixelFormat {
	return PixelFormat{
		BPP:        8,
		Depth:      8,
		BigEndian:  hostBigEndian,
		TrueColor:  true,
		RedMax:     0x07,
		GreenMax:   0x07,
		BlueMax:    0x03,
		RedShift:   5,
		GreenShift: 2,
		BlueShift:  0,
	}
}

// serverOfferedFormat is the server's fixed ServerInit pixel format
// (spec.md §4.3): bpp=32, depth=24, little-endian, true-color, 8 bits
// per channel, in the low 24 bits with the standard R/G/B shift order.
func serverOfferedFormat() PixelFormat {
	return PixelFormat{
		BPP:        32,
		Depth:      24,
		BigEndian:  false,
		TrueColor:  true,
		RedMax:     0xFF,
		GreenMax:   0xFF,
		BlueMax:    0xFF,
		RedShift:   16,
		GreenShift: 8,
		BlueShift:  0,
	}
}

// indexed reports whether this format describes an 8-bpp palette
// (true-color false); only this 8-bpp paletted layout is meaningful
// per spec.md §3.
func (f PixelFormat) indexed() bool {
	return !f.TrueColor
}
