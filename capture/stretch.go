package capture

import "chimbori.dev/cropshot/browser"

// measureStretch derives the stretch diagnostics for an <img>: it is stretched if it is drawn
// larger than its decoded size in either dimension.
func measureStretch(m browser.ImageMeasurement) NestedImageInfo {
	info := NestedImageInfo{
		Src:            m.Src,
		RenderedWidth:  m.RenderedWidth,
		RenderedHeight: m.RenderedHeight,
		NaturalWidth:   m.NaturalWidth,
		NaturalHeight:  m.NaturalHeight,
		IsStretched:    m.RenderedWidth > m.NaturalWidth || m.RenderedHeight > m.NaturalHeight,
		WidthScaling:   scaling(m.RenderedWidth, m.NaturalWidth),
		HeightScaling:  scaling(m.RenderedHeight, m.NaturalHeight),
	}
	if m.RenderedHeight != 0 {
		info.AspectRatio = m.RenderedWidth / m.RenderedHeight
	}
	return info
}

func scaling(rendered, natural float64) Scaling {
	if natural <= 0 {
		return Scaling{}
	}
	return Scaling{Value: rendered / natural, Known: true}
}
