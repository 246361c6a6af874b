package renderer

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/boardforge/api/internal/model"
)

// Procedural renders deterministic SVG art. The same game/role/board/variant
// always yields the same bytes, which keeps reruns and reuse comparisons
// stable. It is the fallback path when the image backend has no output and
// the primary path for the vector render style.
type Procedural struct{}

// NewProcedural creates the procedural renderer.
func NewProcedural() *Procedural {
	return &Procedural{}
}

// IsConfigured always returns true; the procedural path needs no backend.
func (p *Procedural) IsConfigured() bool {
	return true
}

// Render produces an SVG document seeded from the request identity.
func (p *Procedural) Render(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	seed := seedFor(req)
	primary, secondary := pickColors(req.ThemeColors, seed)
	size := req.Size
	if size <= 0 {
		size = 512
	}

	var body string
	switch req.Role {
	case model.RoleBoard:
		body = boardSVG(size, primary, secondary)
	case model.RoleBackground:
		body = backgroundSVG(size, primary, secondary)
	case model.RoleTileLight:
		body = tileSVG(size, secondary)
	case model.RoleTileDark:
		body = tileSVG(size, primary)
	case model.RoleCover:
		body = coverSVG(size, primary, secondary, req.GameID)
	default:
		body = tokenSVG(size, primary, secondary, seed)
	}

	svg := fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">%s</svg>`,
		size, size, size, size, body,
	)
	return &Result{Data: []byte(svg), Format: "svg"}, nil
}

func seedFor(req *Request) uint64 {
	h := fnv.New64a()
	h.Write([]byte(req.GameID + "|" + req.Role + "|" + req.BoardID + "|" + req.Variant))
	return h.Sum64()
}

var defaultPalette = []string{
	"#2d3561", "#c05761", "#e08f62", "#5c8d89", "#845007", "#3a6351",
}

func pickColors(theme []string, seed uint64) (string, string) {
	palette := defaultPalette
	if len(theme) >= 2 {
		palette = theme
	}
	primary := palette[seed%uint64(len(palette))]
	secondary := palette[(seed/7+1)%uint64(len(palette))]
	if secondary == primary {
		secondary = palette[(seed/7+2)%uint64(len(palette))]
	}
	return primary, secondary
}

func boardSVG(size int, primary, secondary string) string {
	cells := 8
	cell := size / cells
	var sb strings.Builder
	fmt.Fprintf(&sb, `<rect width="%d" height="%d" fill="%s"/>`, size, size, secondary)
	for row := 0; row < cells; row++ {
		for col := 0; col < cells; col++ {
			if (row+col)%2 == 0 {
				continue
			}
			fmt.Fprintf(&sb, `<rect x="%d" y="%d" width="%d" height="%d" fill="%s"/>`,
				col*cell, row*cell, cell, cell, primary)
		}
	}
	return sb.String()
}

func backgroundSVG(size int, primary, secondary string) string {
	return fmt.Sprintf(
		`<defs><linearGradient id="g" x1="0" y1="0" x2="1" y2="1">`+
			`<stop offset="0" stop-color="%s"/><stop offset="1" stop-color="%s"/>`+
			`</linearGradient></defs><rect width="%d" height="%d" fill="url(#g)"/>`,
		primary, secondary, size, size)
}

func tileSVG(size int, fill string) string {
	r := size / 16
	return fmt.Sprintf(`<rect width="%d" height="%d" rx="%d" fill="%s"/>`, size, size, r, fill)
}

func coverSVG(size int, primary, secondary, title string) string {
	band := size / 4
	return fmt.Sprintf(
		`<rect width="%d" height="%d" fill="%s"/>`+
			`<rect y="%d" width="%d" height="%d" fill="%s"/>`+
			`<text x="%d" y="%d" font-family="sans-serif" font-size="%d" fill="#ffffff" text-anchor="middle">%s</text>`,
		size, size, primary,
		(size-band)/2, size, band, secondary,
		size/2, size/2+band/8, band/3, escapeText(title))
}

func tokenSVG(size int, primary, secondary string, seed uint64) string {
	c := size / 2
	outer := size * 45 / 100
	inner := size * 25 / 100
	// Seed picks the inner glyph so variants are distinguishable.
	switch seed % 3 {
	case 0:
		half := inner
		return fmt.Sprintf(
			`<circle cx="%d" cy="%d" r="%d" fill="%s"/><rect x="%d" y="%d" width="%d" height="%d" fill="%s"/>`,
			c, c, outer, primary, c-half/2, c-half/2, half, half, secondary)
	case 1:
		return fmt.Sprintf(
			`<circle cx="%d" cy="%d" r="%d" fill="%s"/><circle cx="%d" cy="%d" r="%d" fill="%s"/>`,
			c, c, outer, primary, c, c, inner, secondary)
	default:
		return fmt.Sprintf(
			`<circle cx="%d" cy="%d" r="%d" fill="%s"/><polygon points="%d,%d %d,%d %d,%d" fill="%s"/>`,
			c, c, outer, primary, c, c-inner, c-inner, c+inner, c+inner, c+inner, secondary)
	}
}

func escapeText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

var _ Renderer = (*Procedural)(nil)
