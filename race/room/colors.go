package room

import (
	"math"

	"github.com/wricardo/surfrace/race/protocol"
)

var palette = []protocol.Colors{
	{Shirt: 0xff0000, Shorts: 0x8b0000}, // red
	{Shirt: 0x0000ff, Shorts: 0x00008b}, // blue
	{Shirt: 0x00ff00, Shorts: 0x006400}, // green
	{Shirt: 0xff00ff, Shorts: 0x8b008b}, // magenta
	{Shirt: 0xffa500, Shorts: 0xff8c00}, // orange
	{Shirt: 0x00ffff, Shorts: 0x008b8b}, // cyan
	{Shirt: 0xffff00, Shorts: 0xcccc00}, // yellow
	{Shirt: 0xff1493, Shorts: 0xc71585}, // deep pink
	{Shirt: 0x9370db, Shorts: 0x663399}, // purple
	{Shirt: 0x20b2aa, Shorts: 0x008b8b}, // light sea green
	{Shirt: 0xff6347, Shorts: 0xff4500}, // tomato
	{Shirt: 0x4169e1, Shorts: 0x000080}, // royal blue
	{Shirt: 0x32cd32, Shorts: 0x228b22}, // lime green
	{Shirt: 0xff69b4, Shorts: 0xff1493}, // hot pink
	{Shirt: 0x00ced1, Shorts: 0x008b8b}, // dark turquoise
	{Shirt: 0xffd700, Shorts: 0xdaa520}, // gold
	{Shirt: 0xdc143c, Shorts: 0x8b0000}, // crimson
	{Shirt: 0x7fff00, Shorts: 0x32cd32}, // chartreuse
	{Shirt: 0xff8c00, Shorts: 0xff4500}, // dark orange
	{Shirt: 0x9932cc, Shorts: 0x8b008b}, // dark orchid
	{Shirt: 0x00fa9a, Shorts: 0x3cb371}, // medium spring green
	{Shirt: 0xba55d3, Shorts: 0x9370db}, // medium orchid
	{Shirt: 0x1e90ff, Shorts: 0x4169e1}, // dodger blue
	{Shirt: 0xda70d6, Shorts: 0x9370db}, // orchid
	{Shirt: 0x00ff7f, Shorts: 0x2e8b57}, // spring green
}

const goldenAngle = 137.508

// ColorFor returns the outfit for the index-th player of a room. Indexes past
// the fixed palette are spread around the hue circle by the golden angle.
func ColorFor(index int) protocol.Colors {
	if index < 0 {
		index = 0
	}
	if index < len(palette) {
		return palette[index]
	}

	hue := math.Mod(float64(index)*goldenAngle, 360)
	return protocol.Colors{
		Shirt:  hslToRGB(hue, 0.75, 0.5),
		Shorts: hslToRGB(hue, 0.75*0.8, 0.5*0.6),
	}
}

func hslToRGB(h, s, l float64) uint32 {
	h /= 360
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q

	r := uint32(math.Round(hueToChannel(p, q, h+1.0/3) * 255))
	g := uint32(math.Round(hueToChannel(p, q, h) * 255))
	b := uint32(math.Round(hueToChannel(p, q, h-1.0/3) * 255))
	return r<<16 | g<<8 | b
}

func hueToChannel(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6:
		return p + (q-p)*6*t
	case t < 1.0/2:
		return q
	case t < 2.0/3:
		return p + (q-p)*(2.0/3-t)*6
	}
	return p
}
