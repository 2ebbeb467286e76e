// Command rfbdemo serves a small animated test pattern over RFB, as a
// minimal embedder of the trfb package.
package main

import (
	"flag"
	"log"
	"math"
	"time"

	"github.com/rymis/trfbgo"
)

var (
	bindAddress = flag.String("bindAddress", ":5900", "listen on [ip]:port")
	width       = flag.Int("width", 1280, "framebuffer width")
	height      = flag.Int("height", 720, "framebuffer height")
)

func main() {
	flag.Parse()

	logger := trfb.NewDefaultLogger()
	s, err := trfb.NewServer(*width, *height, 4, logger)
	if err != nil {
		log.Fatal(err)
	}
	host, port := splitBind(*bindAddress)
	if err := s.Bind(host, port); err != nil {
		log.Fatal(err)
	}
	if err := s.Start(); err != nil {
		log.Fatal(err)
	}
	log.Printf("serving on %s", *bindAddress)

	go eventLoop(s)
	paintLoop(s)
}

func splitBind(addr string) (string, string) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:]
		}
	}
	return "", addr
}

func eventLoop(s *trfb.Server) {
	for {
		e, ok := s.PollEvent()
		if !ok {
			time.Sleep(50 * time.Millisecond)
			continue
		}
		switch e.Kind {
		case trfb.EventKey:
			log.Printf("key event: down=%v code=%d", e.KeyDown, e.KeyCode)
		case trfb.EventPointer:
			log.Printf("pointer event: mask=%d x=%d y=%d", e.ButtonMask, e.X, e.Y)
		case trfb.EventCutText:
			log.Printf("cut text: %q", e.CutText)
		}
	}
}

func paintLoop(s *trfb.Server) {
	tick := time.NewTicker(time.Second / 30)
	defer tick.Stop()
	slide := 0
	for range tick.C {
		slide++
		s.LockFb(true)
		drawPattern(s.Framebuffer(), slide)
		s.UnlockFb()
	}
}

// drawPattern paints the same four-corner sliding pattern as the
// teacher's example server, directly into a trfb.Framebuffer instead
// of an image.RGBA.
func drawPattern(fb *trfb.Framebuffer, anim int) {
	w, h := fb.Width(), fb.Height()
	const border = 50
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var r, g, b uint32
			switch {
			case x < border*2.5 && x < int((1.1+math.Sin(float64(y+anim*2)/40))*border):
				r = 255
			case x > w-border*2.5 && x > w-int((1.1+math.Sin(math.Pi+float64(y+anim*2)/40))*border):
				g = 255
			case y < border*2.5 && y < int((1.1+math.Sin(float64(x+anim*2)/40))*border):
				r, g = 255, 255
			case y > h-border*2.5 && y > h-int((1.1+math.Sin(math.Pi+float64(x+anim*2)/40))*border):
				b = 255
			default:
				r, g, b = uint32(uint8(x+anim)), uint32(uint8(y+anim)), uint32(uint8(x+y+anim*3))
			}
			_ = fb.SetPixel(x, y, r<<16|g<<8|b)
		}
	}
}
