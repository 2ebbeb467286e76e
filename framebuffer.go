package trfb

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"
)

// maxDimension is the largest width or height a Framebuffer may have;
// RFB rectangle fields are 16-bit.
const maxDimension = 65535

// Framebuffer owns a row-major width x height grid of pixels in one of
// three byte widths (1, 2, or 4 bytes per pixel), plus the pixel layout
// (per-channel max and shift) needed to interpret those bytes as
// colors. It is embedded with its own mutex; apart from Dimensions,
// none of the functions below take that mutex themselves -- callers
// hold it for the duration of any read or write that must be consistent
// with a concurrent mutator.
type Framebuffer struct {
	sync.Mutex

	width, height int
	bpp           int // bytes per pixel: 1, 2, or 4

	redMax, greenMax, blueMax       uint16
	redShift, greenShift, blueShift uint8

	pix []byte
}

func validateDimensions(width, height int) error {
	if width < 1 || height < 1 || width > maxDimension || height > maxDimension {
		return newError("framebuffer", KindInvalidArgument,
			errors.Errorf("dimensions %dx%d out of range [1, %d]", width, height, maxDimension))
	}
	return nil
}

func validateBpp(bpp int) error {
	if bpp != 1 && bpp != 2 && bpp != 4 {
		return newError("framebuffer", KindInvalidArgument, errors.Errorf("bpp %d not in {1,2,4}", bpp))
	}
	return nil
}

// NewFramebuffer allocates a zeroed width x height framebuffer with bpp
// bytes per pixel and the default mask/shift layout for that bpp.
func NewFramebuffer(width, height, bpp int) (*Framebuffer, error) {
	if err := validateDimensions(width, height); err != nil {
		return nil, err
	}
	if err := validateBpp(bpp); err != nil {
		return nil, err
	}
	fb := &Framebuffer{width: width, height: height, bpp: bpp}
	fb.applyFormat(defaultFormat(bpp))
	fb.pix = make([]byte, width*height*bpp)
	return fb, nil
}

// NewFramebufferOfFormat allocates a framebuffer whose bpp, masks, and
// shifts are taken from fmt rather than the bpp defaults.
func NewFramebufferOfFormat(width, height int, format PixelFormat) (*Framebuffer, error) {
	if err := validateDimensions(width, height); err != nil {
		return nil, err
	}
	bpp := format.bytesPerPixel()
	if err := validateBpp(bpp); err != nil {
		return nil, err
	}
	fb := &Framebuffer{width: width, height: height, bpp: bpp}
	fb.applyFormat(format)
	fb.pix = make([]byte, width*height*bpp)
	return fb, nil
}

func (fb *Framebuffer) applyFormat(format PixelFormat) {
	if format.indexed() {
		fb.redMax, fb.greenMax, fb.blueMax = 0, 0, 0
		fb.redShift, fb.greenShift, fb.blueShift = 0, 0, 0
		return
	}
	fb.redMax, fb.greenMax, fb.blueMax = format.RedMax, format.GreenMax, format.BlueMax
	fb.redShift, fb.greenShift, fb.blueShift = format.RedShift, format.GreenShift, format.BlueShift
}

// Copy returns a deep copy of fb's pixels and layout with a fresh,
// unlocked mutex.
func (fb *Framebuffer) Copy() *Framebuffer {
	out := &Framebuffer{
		width: fb.width, height: fb.height, bpp: fb.bpp,
		redMax: fb.redMax, greenMax: fb.greenMax, blueMax: fb.blueMax,
		redShift: fb.redShift, greenShift: fb.greenShift, blueShift: fb.blueShift,
	}
	out.pix = make([]byte, len(fb.pix))
	copy(out.pix, fb.pix)
	return out
}

// Width, Height and BPP are trivial accessors that describe this
// framebuffer without exposing its internal layout math.
func (fb *Framebuffer) Width() int  { return fb.width }
func (fb *Framebuffer) Height() int { return fb.height }
func (fb *Framebuffer) BPP() int    { return fb.bpp }

// Dimensions returns fb's width and height under fb's own lock, for
// callers that only need the size and not the Server's Updated
// bookkeeping that LockFb/UnlockFb perform.
func (fb *Framebuffer) Dimensions() (int, int) {
	fb.Lock()
	defer fb.Unlock()
	return fb.width, fb.height
}

// RowSlice returns the raw wire bytes for the w pixels starting at
// (x, y) on row y. The caller must already hold fb's mutex and have
// clipped (x, y, w) to the framebuffer bounds.
func (fb *Framebuffer) RowSlice(x, y, w int) []byte {
	off := (y*fb.width + x) * fb.bpp
	return fb.pix[off : off+w*fb.bpp]
}

// Format fills out a PixelFormat describing fb's current layout: bpp
// and depth derived from the byte width, masks/shifts copied as-is,
// and big-endian set to the host's native order (spec.md §4.1).
func (fb *Framebuffer) Format() PixelFormat {
	f := PixelFormat{BigEndian: hostBigEndian}
	switch fb.bpp {
	case 1:
		f.BPP, f.Depth = 8, 8
	case 2:
		f.BPP, f.Depth = 16, 16
	case 4:
		f.BPP, f.Depth = 32, 24
	}
	f.TrueColor = fb.redMax != 0 || fb.bpp != 1
	f.RedMax, f.GreenMax, f.BlueMax = fb.redMax, fb.greenMax, fb.blueMax
	f.RedShift, f.GreenShift, f.BlueShift = fb.redShift, fb.greenShift, fb.blueShift
	return f
}

// Resize reallocates fb to width x height, preserving the top-left
// corner up to min(old, new) in each axis and zeroing any newly
// exposed region.
func (fb *Framebuffer) Resize(width, height int) error {
	if err := validateDimensions(width, height); err != nil {
		return err
	}
	newPix := make([]byte, width*height*fb.bpp)
	copyW := width
	if fb.width < copyW {
		copyW = fb.width
	}
	copyH := height
	if fb.height < copyH {
		copyH = fb.height
	}
	rowBytes := copyW * fb.bpp
	for y := 0; y < copyH; y++ {
		srcOff := y * fb.width * fb.bpp
		dstOff := y * width * fb.bpp
		copy(newPix[dstOff:dstOff+rowBytes], fb.pix[srcOff:srcOff+rowBytes])
	}
	fb.width, fb.height = width, height
	fb.pix = newPix
	return nil
}

// sameLayout reports whether dst and src share bpp and pixel layout,
// making Convert a raw byte blit.
func sameLayout(dst, src *Framebuffer) bool {
	return dst.bpp == src.bpp &&
		dst.redMax == src.redMax && dst.greenMax == src.greenMax && dst.blueMax == src.blueMax &&
		dst.redShift == src.redShift && dst.greenShift == src.greenShift && dst.blueShift == src.blueShift
}

// Convert rewrites dst's pixels from src's, reallocating dst to src's
// dimensions if they differ (dst's bpp and layout are preserved). When
// src and dst share a layout this is a raw byte copy; otherwise every
// pixel is read from src as a logical 24-bit color and packed into
// dst's layout. Like the rest of this type, Convert takes no lock;
// callers hold the mutex of each framebuffer that another goroutine can
// reach for its duration.
func Convert(dst, src *Framebuffer) error {
	if dst == nil || src == nil {
		return newError("Convert", KindInvalidArgument, errors.New("nil framebuffer"))
	}
	if dst.width != src.width || dst.height != src.height {
		if err := dst.Resize(src.width, src.height); err != nil {
			return err
		}
	}
	if sameLayout(dst, src) {
		copy(dst.pix, src.pix)
		return nil
	}
	for y := 0; y < src.height; y++ {
		for x := 0; x < src.width; x++ {
			c, err := src.GetPixel(x, y)
			if err != nil {
				return err
			}
			if err := dst.SetPixel(x, y, c); err != nil {
				return err
			}
		}
	}
	return nil
}

func normalizeChannel(raw uint32, shift uint8, max uint16) byte {
	if max == 0 {
		return 0
	}
	bitsN := channelBits(max)
	value := (raw >> shift) & uint32(max)
	return byte(value << uint(8-bitsN))
}

func packChannel(chan8 byte, shift uint8, max uint16) uint32 {
	if max == 0 {
		return 0
	}
	return (uint32(chan8) * (uint32(max) + 1) / 256) << shift
}

func offsetOf(fb *Framebuffer, x, y int) (int, error) {
	if x < 0 || y < 0 || x >= fb.width || y >= fb.height {
		return 0, newError("framebuffer", KindInvalidArgument, errors.Errorf("coordinate (%d,%d) out of bounds %dx%d", x, y, fb.width, fb.height))
	}
	return (y*fb.width + x) * fb.bpp, nil
}

// GetPixel returns the logical 24-bit color (0x00rrggbb) at (x, y).
func (fb *Framebuffer) GetPixel(x, y int) (uint32, error) {
	off, err := offsetOf(fb, x, y)
	if err != nil {
		return 0, err
	}
	switch fb.bpp {
	case 1:
		raw := fb.pix[off]
		if fb.redMax == 0 {
			r, g, b := paletteColor(int(raw))
			return uint32(r)<<16 | uint32(g)<<8 | uint32(b), nil
		}
		r := normalizeChannel(uint32(raw), fb.redShift, fb.redMax)
		g := normalizeChannel(uint32(raw), fb.greenShift, fb.greenMax)
		b := normalizeChannel(uint32(raw), fb.blueShift, fb.blueMax)
		return uint32(r)<<16 | uint32(g)<<8 | uint32(b), nil
	case 2:
		raw := binary.NativeEndian.Uint16(fb.pix[off : off+2])
		r := normalizeChannel(uint32(raw), fb.redShift, fb.redMax)
		g := normalizeChannel(uint32(raw), fb.greenShift, fb.greenMax)
		b := normalizeChannel(uint32(raw), fb.blueShift, fb.blueMax)
		return uint32(r)<<16 | uint32(g)<<8 | uint32(b), nil
	case 4:
		raw := binary.NativeEndian.Uint32(fb.pix[off : off+4])
		r := normalizeChannel(raw, fb.redShift, fb.redMax)
		g := normalizeChannel(raw, fb.greenShift, fb.greenMax)
		b := normalizeChannel(raw, fb.blueShift, fb.blueMax)
		return uint32(r)<<16 | uint32(g)<<8 | uint32(b), nil
	default:
		return 0, newError("GetPixel", KindInvalidArgument, errors.Errorf("corrupt bpp %d", fb.bpp))
	}
}

// SetPixel stores the logical 24-bit color (0x00rrggbb) at (x, y).
func (fb *Framebuffer) SetPixel(x, y int, color uint32) error {
	off, err := offsetOf(fb, x, y)
	if err != nil {
		return err
	}
	r := byte(color >> 16)
	g := byte(color >> 8)
	b := byte(color)
	switch fb.bpp {
	case 1:
		if fb.redMax == 0 {
			fb.pix[off] = byte(paletteIndex(r, g, b))
			return nil
		}
		v := packChannel(r, fb.redShift, fb.redMax) | packChannel(g, fb.greenShift, fb.greenMax) | packChannel(b, fb.blueShift, fb.blueMax)
		fb.pix[off] = byte(v)
		return nil
	case 2:
		v := packChannel(r, fb.redShift, fb.redMax) | packChannel(g, fb.greenShift, fb.greenMax) | packChannel(b, fb.blueShift, fb.blueMax)
		binary.NativeEndian.PutUint16(fb.pix[off:off+2], uint16(v))
		return nil
	case 4:
		v := packChannel(r, fb.redShift, fb.redMax) | packChannel(g, fb.greenShift, fb.greenMax) | packChannel(b, fb.blueShift, fb.blueMax)
		binary.NativeEndian.PutUint32(fb.pix[off:off+4], v)
		return nil
	default:
		return newError("SetPixel", KindInvalidArgument, errors.Errorf("corrupt bpp %d", fb.bpp))
	}
}

// Endian byteswaps every pixel in fb if the host's native order differs
// from targetBigEndian and bpp is 2 or 4; otherwise it is a no-op. Two
// calls with the same targetBigEndian therefore cancel out, matching
// the idempotent-pair property in spec.md §8.
func (fb *Framebuffer) Endian(targetBigEndian bool) error {
	if fb.bpp == 1 || hostBigEndian == targetBigEndian {
		return nil
	}
	n := fb.width * fb.height
	switch fb.bpp {
	case 2:
		for i := 0; i < n; i++ {
			off := i * 2
			fb.pix[off], fb.pix[off+1] = fb.pix[off+1], fb.pix[off]
		}
	case 4:
		for i := 0; i < n; i++ {
			off := i * 4
			fb.pix[off], fb.pix[off+3] = fb.pix[off+3], fb.pix[off]
			fb.pix[off+1], fb.pix[off+2] = fb.pix[off+2], fb.pix[off+1]
		}
	}
	return nil
}
