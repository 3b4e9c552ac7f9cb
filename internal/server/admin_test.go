package server

import (
	"image/png"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nitrogenlogic/zoned/internal/coords"
	"github.com/nitrogenlogic/zoned/internal/zones"
)

func newTestServerForAdmin() (*Server, *fakeFrames) {
	tables := coords.NewTables()
	zl := zones.New(tables, 2, 2)
	frames := &fakeFrames{}
	return New(zl, tables, frames, &fakeTilt{}, func() int { return 30 }), frames
}

func TestServePreviewReturns404WithoutAFrame(t *testing.T) {
	s, _ := newTestServerForAdmin()

	req := httptest.NewRequest("GET", "/debug/preview.png", nil)
	rec := httptest.NewRecorder()
	s.servePreview(rec, req)

	assert.Equal(t, 404, rec.Code)
}

func TestServePreviewDownscalesLatestFrame(t *testing.T) {
	s, frames := newTestServerForAdmin()

	raw := make([]byte, coords.FrameWidth*coords.FrameHeight)
	for i := range raw {
		raw[i] = byte(i)
	}
	frames.mu.Lock()
	frames.peek = raw
	frames.mu.Unlock()

	req := httptest.NewRequest("GET", "/debug/preview.png", nil)
	rec := httptest.NewRecorder()
	s.servePreview(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))

	img, err := png.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, previewWidth, img.Bounds().Dx())
	assert.Equal(t, previewHeight, img.Bounds().Dy())
}
