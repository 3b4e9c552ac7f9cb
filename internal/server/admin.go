package server

import (
	"fmt"
	"image"
	"image/png"
	"log"
	"net/http"

	"golang.org/x/image/draw"
	"tailscale.com/tsweb"

	"github.com/nitrogenlogic/zoned/internal/coords"
	"github.com/nitrogenlogic/zoned/internal/zones"
)

// previewWidth and previewHeight are the downscaled dimensions of the
// /debug/preview.png admin image; the sensor's raw video frame is much
// larger than anyone needs for a quick visual sanity check.
const (
	previewWidth  = 160
	previewHeight = 120
)

// AttachAdminRoutes attaches read-only operational debug endpoints for this
// server to mux, served under /debug/ the same way the rest of the daemon's
// admin surface is.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("zones", "Dump the current zone list as plain text", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "version=%d count=%d occupied=%d\n", s.zl.GetVersion(), s.zl.Count(), s.zl.OccupiedCount())
		s.zl.Each(func(z *zones.Zone) {
			fmt.Fprintln(w, zoneInfoLine(z, true))
		})
	})

	debug.HandleFunc("clients", "List currently connected command protocol clients", func(w http.ResponseWriter, r *http.Request) {
		s.clientsMu.Lock()
		defer s.clientsMu.Unlock()
		fmt.Fprintf(w, "%d clients connected\n", len(s.clients))
		for _, c := range s.clients {
			fmt.Fprintf(w, "%s: global=%v depth=%v video=%v bright=%v\n",
				c.conn.RemoteAddr(), c.subGlobal, c.subDepth, c.subVideo, c.subBright)
		}
	})

	debug.HandleFunc("fps", "Report the current approximate frame rate", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "%d fps\n", s.fps())
	})

	debug.HandleFunc("preview.png", "Downscaled PNG of the last video frame, if any", s.servePreview)
}

// servePreview renders the most recently published video frame as a
// downscaled grayscale PNG. It does not request a new frame or affect the
// on-demand video stream lifecycle; it only shows whatever frame is already
// cached, and reports 404 if the camera has never sent one.
func (s *Server) servePreview(w http.ResponseWriter, r *http.Request) {
	raw := s.frames.PeekVideo()
	if len(raw) != coords.FrameWidth*coords.FrameHeight {
		http.Error(w, "no video frame available yet", http.StatusNotFound)
		return
	}

	src := &image.Gray{
		Pix:    raw,
		Stride: coords.FrameWidth,
		Rect:   image.Rect(0, 0, coords.FrameWidth, coords.FrameHeight),
	}

	dst := image.NewGray(image.Rect(0, 0, previewWidth, previewHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, dst); err != nil {
		log.Printf("server: failed to encode preview image: %v", err)
	}
}
