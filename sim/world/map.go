package world

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/png"
	"io"
	"os"
)

// Color is the classification of a single map pixel
type Color int

const (
	White Color = iota
	Green
	Black
	Unknown
)

// ThresholdLevel is the channel value at and above which a channel is
// treated as full intensity.
const ThresholdLevel = 128

var ErrInvalidLayout = errors.New("invalid map layout")

// String returns the lower-case color name
func (c Color) String() string {
	switch c {
	case White:
		return "white"
	case Green:
		return "green"
	case Black:
		return "black"
	default:
		return "unknown"
	}
}

// MarshalText encodes the color by name
func (c Color) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a color name. Unrecognized names decode to Unknown.
func (c *Color) UnmarshalText(text []byte) error {
	switch string(text) {
	case "white":
		*c = White
	case "green":
		*c = Green
	case "black":
		*c = Black
	default:
		*c = Unknown
	}
	return nil
}

// Threshold requantizes a pixel to 0xRRGGBB with every channel either
// 0x00 or 0xff.
func Threshold(r, g, b uint8) uint32 {
	var rgb uint32
	if r >= ThresholdLevel {
		rgb |= 0xff0000
	}
	if g >= ThresholdLevel {
		rgb |= 0x00ff00
	}
	if b >= ThresholdLevel {
		rgb |= 0x0000ff
	}
	return rgb
}

// Classify maps raw channel values to a Color
func Classify(r, g, b uint8) Color {
	switch Threshold(r, g, b) {
	case 0x000000:
		return Black
	case 0xffffff:
		return White
	case 0x00ff00:
		return Green
	}
	return Unknown
}

// Map is an immutable pixel classification surface
type Map struct {
	name string
	pix  *image.NRGBA
}

// New copies img into a new Map. Later changes to img are not observed.
func New(name string, img image.Image) *Map {
	b := img.Bounds()
	pix := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(pix, pix.Bounds(), img, b.Min, draw.Src)
	return &Map{name: name, pix: pix}
}

// Decode reads an encoded raster image (PNG) into a Map
func Decode(name string, r io.Reader) (*Map, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode map %s: %w", name, err)
	}
	return New(name, img), nil
}

// Load reads a map image from disk
func Load(name, path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open map image: %w", err)
	}
	defer f.Close()
	return Decode(name, f)
}

// layoutPalette maps layout characters to the pixel colors they paint
var layoutPalette = map[rune]color.NRGBA{
	'W': {R: 0xff, G: 0xff, B: 0xff, A: 0xff},
	'B': {R: 0x00, G: 0x00, B: 0x00, A: 0xff},
	'G': {R: 0x00, G: 0xff, B: 0x00, A: 0xff},
	'R': {R: 0xff, G: 0x00, B: 0x00, A: 0xff},
	'Y': {R: 0xff, G: 0xff, B: 0x00, A: 0xff},
	'U': {R: 0x00, G: 0x00, B: 0xff, A: 0xff},
}

// IsLayoutChar reports whether ch is a valid layout character
func IsLayoutChar(ch rune) bool {
	_, ok := layoutPalette[ch]
	return ok
}

// FromLayout builds a Map where every layout character paints a
// scale x scale block. Valid characters are W (white), B (black),
// G (green) and R, Y, U, which paint red, yellow and blue and therefore
// classify as Unknown.
func FromLayout(name string, layout []string, scale int) (*Map, error) {
	if scale < 1 {
		return nil, fmt.Errorf("%w: scale must be positive, got %d", ErrInvalidLayout, scale)
	}
	if len(layout) == 0 {
		return nil, fmt.Errorf("%w: layout is empty", ErrInvalidLayout)
	}
	width := len([]rune(layout[0]))
	if width == 0 {
		return nil, fmt.Errorf("%w: layout rows are empty", ErrInvalidLayout)
	}

	pix := image.NewNRGBA(image.Rect(0, 0, width*scale, len(layout)*scale))
	for row, line := range layout {
		cells := []rune(line)
		if len(cells) != width {
			return nil, fmt.Errorf("%w: row %d has %d cells, expected %d", ErrInvalidLayout, row+1, len(cells), width)
		}
		for col, ch := range cells {
			c, ok := layoutPalette[ch]
			if !ok {
				return nil, fmt.Errorf("%w: invalid character '%c' at row %d, col %d", ErrInvalidLayout, ch, row+1, col+1)
			}
			block := image.Rect(col*scale, row*scale, (col+1)*scale, (row+1)*scale)
			draw.Draw(pix, block, &image.Uniform{C: c}, image.Point{}, draw.Src)
		}
	}
	return &Map{name: name, pix: pix}, nil
}

// Name returns the map identifier
func (m *Map) Name() string {
	return m.name
}

// Width returns the map width in pixels
func (m *Map) Width() int {
	return m.pix.Rect.Dx()
}

// Height returns the map height in pixels
func (m *Map) Height() int {
	return m.pix.Rect.Dy()
}

// Contains reports whether (x, y) lies on the map
func (m *Map) Contains(x, y int) bool {
	return x >= 0 && x < m.Width() && y >= 0 && y < m.Height()
}

// ColorAt classifies the pixel at (x, y). Out-of-bounds coordinates
// classify as White.
func (m *Map) ColorAt(x, y int) Color {
	if !m.Contains(x, y) {
		return White
	}
	c := m.pix.NRGBAAt(x, y)
	return Classify(c.R, c.G, c.B)
}

// Image returns a copy of the underlying pixels for renderers
func (m *Map) Image() image.Image {
	cp := image.NewNRGBA(m.pix.Rect)
	copy(cp.Pix, m.pix.Pix)
	return cp
}

// Census counts pixels per classification
func (m *Map) Census() map[Color]int {
	counts := make(map[Color]int, 4)
	for y := 0; y < m.Height(); y++ {
		for x := 0; x < m.Width(); x++ {
			counts[m.ColorAt(x, y)]++
		}
	}
	return counts
}
