// Command rfbscreen casts the primary display over RFB, using
// github.com/kbinani/screenshot as the capture source.
package main

import (
	"flag"
	"image"
	"log"
	"time"

	"github.com/kbinani/screenshot"
	"github.com/rymis/trfbgo"
)

var bindAddress = flag.String("bindAddress", "localhost:5900", "listen on [ip]:port")

func main() {
	flag.Parse()

	if n := screenshot.NumActiveDisplays(); n < 1 {
		log.Fatal("no screens found")
	} else if n > 1 {
		log.Print("warning: more than one screen, only casting the first")
	}
	rect := screenshot.GetDisplayBounds(0)
	width, height := rect.Dx(), rect.Dy()
	log.Printf("screen size: %dx%d", width, height)

	logger := trfb.NewDefaultLogger()
	s, err := trfb.NewServer(width, height, 4, logger)
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
	captureLoop(s)
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

func captureLoop(s *trfb.Server) {
	tick := time.NewTicker(time.Second / 30)
	defer tick.Stop()
	for range tick.C {
		img, err := screenshot.CaptureDisplay(0)
		if err != nil {
			log.Printf("capture failed: %v", err)
			continue
		}
		s.LockFb(true)
		copyImageIntoFramebuffer(s.Framebuffer(), img)
		s.UnlockFb()
	}
}

func copyImageIntoFramebuffer(fb *trfb.Framebuffer, img *image.RGBA) {
	bounds := img.Bounds()
	w, h := fb.Width(), fb.Height()
	if bounds.Dx() < w {
		w = bounds.Dx()
	}
	if bounds.Dy() < h {
		h = bounds.Dy()
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			off := img.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
			r, g, b := img.Pix[off], img.Pix[off+1], img.Pix[off+2]
			_ = fb.SetPixel(x, y, uint32(r)<<16|uint32(g)<<8|uint32(b))
		}
	}
}
