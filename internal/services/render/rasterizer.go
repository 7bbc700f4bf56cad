// Package render rasterizes PDF pages into images.
//
// Pages are parsed with ledongthuc/pdf, which interprets each page's content
// stream into positioned text runs and rectangles. Those are drawn onto a
// bitmap surface with golang.org/x/image (vector paths and the Go fonts) at
// a fixed scale, then encoded. Rendering is sequential and in page order.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"log"
	"math"
	"sync"

	"github.com/ledongthuc/pdf"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/tiff"
	"golang.org/x/image/vector"
)

// Format is an output image encoding.
type Format string

const (
	FormatPNG  Format = "png"
	FormatJPEG Format = "jpeg"
	FormatTIFF Format = "tiff"
)

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatTIFF:
		return "image/tiff"
	default:
		return "image/png"
	}
}

// ParseFormat maps a user-supplied name to a Format.
func ParseFormat(s string) (Format, bool) {
	switch s {
	case "", "png":
		return FormatPNG, true
	case "jpeg", "jpg":
		return FormatJPEG, true
	case "tiff", "tif":
		return FormatTIFF, true
	}
	return "", false
}

const (
	// MaxScale bounds the per-request scale override.
	MaxScale = 4.0

	jpegQuality = 85

	// US Letter, used when no MediaBox is found in the page tree.
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0

	// Page trees deeper than this are treated as malformed.
	maxTreeDepth = 32

	// MaxPages bounds the page count a document may declare.
	MaxPages = 5000

	// maxSurfacePixels caps any single surface, even with no pixel budget
	// configured: 4 bytes per pixel keeps an RGBA page under 4GiB.
	maxSurfacePixels = 1 << 30
)

var (
	// ErrInvalidDocument is returned when the input cannot be parsed as a PDF.
	ErrInvalidDocument = errors.New("invalid PDF document")

	// ErrSurfaceTooLarge is returned by the default surface when a page
	// would exceed the configured pixel budget.
	ErrSurfaceTooLarge = errors.New("page surface exceeds pixel limit")

	// ErrInvalidScale is returned for a scale outside (0, MaxScale].
	ErrInvalidScale = errors.New("invalid render scale")
)

// SurfaceFunc acquires a drawing surface of the given pixel size.
type SurfaceFunc func(width, height int) (draw.Image, error)

// Options tune a single rasterization call. Zero values use the
// Rasterizer's defaults.
type Options struct {
	Scale   float64
	Format  Format
	Surface SurfaceFunc
}

// Page is one rendered page. It lives only for the duration of a request.
type Page struct {
	Number      int
	Width       int
	Height      int
	ContentType string
	Data        []byte
}

// Result holds the rendered pages in page order plus the pages that were
// skipped because no surface could be acquired for them.
type Result struct {
	PageCount int
	Scale     float64
	Pages     []Page
	Skipped   []int
}

// Rasterizer renders PDF documents to images.
type Rasterizer struct {
	scale     float64
	maxPixels int
}

// New creates a rasterizer with a default scale (pixels per point) and a
// per-page pixel budget. maxPixels <= 0 disables the budget.
func New(scale float64, maxPixels int) *Rasterizer {
	if !(scale > 0 && scale <= MaxScale) {
		scale = 1.5
	}
	return &Rasterizer{scale: scale, maxPixels: maxPixels}
}

// Scale returns the default scale.
func (r *Rasterizer) Scale() float64 {
	return r.scale
}

// Rasterize renders every page of the document in order. A page whose
// surface cannot be acquired, or whose page object cannot be parsed, is
// skipped and recorded in Result.Skipped; the remaining pages still render.
// Cancellation is checked between pages.
func (r *Rasterizer) Rasterize(ctx context.Context, data []byte, opts Options) (*Result, error) {
	scale := opts.Scale
	if scale == 0 {
		scale = r.scale
	}
	if !(scale > 0 && scale <= MaxScale) {
		return nil, fmt.Errorf("%w: scale %v must be in (0, %.1f]", ErrInvalidScale, scale, MaxScale)
	}
	format := opts.Format
	if format == "" {
		format = FormatPNG
	}
	surface := opts.Surface
	if surface == nil {
		surface = r.newSurface
	}

	reader, err := openReader(data)
	if err != nil {
		return nil, err
	}

	pageCount, err := numPages(reader)
	if err != nil {
		return nil, err
	}
	result := &Result{PageCount: pageCount, Scale: scale}

	faces := newFaceCache()
	defer faces.close()

	for i := 1; i <= pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		img, err := renderPage(reader, i, scale, surface, faces)
		if err != nil {
			log.Printf("⚠️  Render: skipping page %d: %v", i, err)
			result.Skipped = append(result.Skipped, i)
			continue
		}

		encoded, err := encode(img, format)
		if err != nil {
			return nil, fmt.Errorf("failed to encode page %d: %w", i, err)
		}

		b := img.Bounds()
		result.Pages = append(result.Pages, Page{
			Number:      i,
			Width:       b.Dx(),
			Height:      b.Dy(),
			ContentType: format.ContentType(),
			Data:        encoded,
		})
	}

	return result, nil
}

// numPages reads the page count from the page tree root.
func numPages(reader *pdf.Reader) (n int, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: unreadable page tree: %v", ErrInvalidDocument, rec)
		}
	}()

	n = reader.NumPage()
	if n < 0 || n > MaxPages {
		return 0, fmt.Errorf("%w: page count %d out of range [0, %d]", ErrInvalidDocument, n, MaxPages)
	}
	return n, nil
}

// renderPage resolves page i and draws it onto a fresh surface. The parser
// resolves objects lazily and panics on malformed ones, so a panic here
// only costs this page.
func renderPage(reader *pdf.Reader, i int, scale float64, surface SurfaceFunc, faces *faceCache) (img draw.Image, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			img = nil
			err = fmt.Errorf("malformed page object: %v", rec)
		}
	}()

	page := reader.Page(i)
	if page.V.IsNull() {
		return nil, errors.New("page missing from page tree")
	}

	box := mediaBox(page.V)
	w := math.Ceil(box.Dx() * scale)
	h := math.Ceil(box.Dy() * scale)
	if !(w >= 1 && h >= 1 && w*h <= maxSurfacePixels) {
		return nil, fmt.Errorf("%w: %.0fx%.0f", ErrSurfaceTooLarge, w, h)
	}
	width, height := int(w), int(h)

	dst, err := surface(width, height)
	if err != nil || dst == nil {
		return nil, fmt.Errorf("no surface (%dx%d): %v", width, height, err)
	}

	drawPage(dst, page, box, scale, faces)
	return dst, nil
}

// newSurface is the default SurfaceFunc: an RGBA bitmap within the pixel budget.
func (r *Rasterizer) newSurface(width, height int) (draw.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid surface size %dx%d", width, height)
	}
	if r.maxPixels > 0 && width > r.maxPixels/height {
		return nil, ErrSurfaceTooLarge
	}
	return image.NewRGBA(image.Rect(0, 0, width, height)), nil
}

// openReader parses the document. The parser panics on some malformed
// inputs, so panics are reported as ErrInvalidDocument.
func openReader(data []byte) (reader *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reader = nil
			err = fmt.Errorf("%w: %v", ErrInvalidDocument, rec)
		}
	}()

	reader, err = pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return reader, nil
}

// box is a page rectangle in PDF user space (origin bottom-left).
type box struct {
	llx, lly, urx, ury float64
}

func (b box) Dx() float64 { return b.urx - b.llx }
func (b box) Dy() float64 { return b.ury - b.lly }

// mediaBox reads the page's MediaBox, walking up the page tree since the
// attribute is inheritable.
func mediaBox(v pdf.Value) box {
	for depth := 0; depth < maxTreeDepth && !v.IsNull(); depth++ {
		mb := v.Key("MediaBox")
		if mb.Kind() == pdf.Array && mb.Len() == 4 {
			b := box{
				llx: math.Min(mb.Index(0).Float64(), mb.Index(2).Float64()),
				lly: math.Min(mb.Index(1).Float64(), mb.Index(3).Float64()),
				urx: math.Max(mb.Index(0).Float64(), mb.Index(2).Float64()),
				ury: math.Max(mb.Index(1).Float64(), mb.Index(3).Float64()),
			}
			if b.Dx() > 0 && b.Dy() > 0 {
				return b
			}
		}
		v = v.Key("Parent")
	}
	return box{urx: defaultPageWidth, ury: defaultPageHeight}
}

// pageContent interprets the page's content stream. Streams the parser
// cannot handle yield empty content, which renders as a blank page.
func pageContent(p pdf.Page) (content pdf.Content) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("⚠️  Render: content stream unreadable, rendering blank page: %v", rec)
			content = pdf.Content{}
		}
	}()
	return p.Content()
}

var strokeColor = color.RGBA{R: 0x33, G: 0x33, B: 0x33, A: 0xff}

// drawPage paints the page background, rectangle outlines and text runs.
func drawPage(dst draw.Image, p pdf.Page, b box, scale float64, faces *faceCache) {
	bounds := dst.Bounds()
	draw.Draw(dst, bounds, image.White, image.Point{}, draw.Src)

	content := pageContent(p)

	// Map a user-space point to surface pixels (y axis flipped).
	toPx := func(x, y float64) (float32, float32) {
		return float32((x - b.llx) * scale), float32((b.ury - y) * scale)
	}

	if len(content.Rect) > 0 {
		z := vector.NewRasterizer(bounds.Dx(), bounds.Dy())
		line := float32(math.Max(1, scale*0.75))
		for _, rect := range content.Rect {
			x0, y0 := toPx(rect.Min.X, rect.Max.Y)
			x1, y1 := toPx(rect.Max.X, rect.Min.Y)
			x0, x1 = minMax(x0, x1)
			y0, y1 = minMax(y0, y1)
			outline(z, x0, y0, x1, y1, line)
		}
		z.Draw(dst, bounds, image.NewUniform(strokeColor), image.Point{})
	}

	for _, t := range content.Text {
		if t.S == "" {
			continue
		}
		size := t.FontSize * scale
		if size < 1 {
			continue
		}
		face := faces.get(size)
		if face == nil {
			continue
		}
		x, y := toPx(t.X, t.Y)
		d := font.Drawer{
			Dst:  dst,
			Src:  image.Black,
			Face: face,
			Dot:  fixed.Point26_6{X: fixed.Int26_6(x * 64), Y: fixed.Int26_6(y * 64)},
		}
		d.DrawString(t.S)
	}
}

// outline adds a rectangle border of the given width to z. The inner
// rectangle is wound in the opposite direction so it cancels the fill.
func outline(z *vector.Rasterizer, x0, y0, x1, y1, w float32) {
	z.MoveTo(x0, y0)
	z.LineTo(x1, y0)
	z.LineTo(x1, y1)
	z.LineTo(x0, y1)
	z.ClosePath()

	if x1-x0 <= 2*w || y1-y0 <= 2*w {
		return
	}
	z.MoveTo(x0+w, y0+w)
	z.LineTo(x0+w, y1-w)
	z.LineTo(x1-w, y1-w)
	z.LineTo(x1-w, y0+w)
	z.ClosePath()
}

func minMax(a, b float32) (float32, float32) {
	if a > b {
		return b, a
	}
	return a, b
}

func encode(img image.Image, format Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatJPEG:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	case FormatTIFF:
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// --- Fonts ---

var (
	regularOnce sync.Once
	regularFont *opentype.Font
	regularErr  error
)

// regular returns the parsed Go Regular font, parsed once per process.
func regular() (*opentype.Font, error) {
	regularOnce.Do(func() {
		regularFont, regularErr = opentype.Parse(goregular.TTF)
	})
	return regularFont, regularErr
}

// faceCache holds one face per pixel size for the duration of a render.
type faceCache struct {
	faces map[int]font.Face
}

func newFaceCache() *faceCache {
	return &faceCache{faces: make(map[int]font.Face)}
}

// get returns a face for the pixel size, rounded to half-pixel steps.
func (c *faceCache) get(size float64) font.Face {
	key := int(math.Round(math.Min(size, 400) * 2))
	if f, ok := c.faces[key]; ok {
		return f
	}
	f, err := regular()
	if err != nil {
		log.Printf("⚠️  Render: font unavailable: %v", err)
		c.faces[key] = nil
		return nil
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    float64(key) / 2,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		face = nil
	}
	c.faces[key] = face
	return face
}

func (c *faceCache) close() {
	for _, f := range c.faces {
		if f != nil {
			f.Close()
		}
	}
}
