/*
Copyright © 2024 the treecl authors.
This file is part of treecl.

treecl is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

treecl is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with treecl.  If not, see <http://www.gnu.org/licenses/>.
*/

package treeclutil

import (
	"fmt"
	"image/color"
	"io"
	"os"

	"github.com/spatialmodel/treecl"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// gridXYZ adapts a grid to plotter.GridXYZ. Plot rows increase
// northward, so they are in the reverse order of grid rows.
type gridXYZ struct{ g *treecl.Grid }

func (g gridXYZ) Dims() (c, r int)   { return g.g.Nx(), g.g.Ny() }
func (g gridXYZ) Z(c, r int) float64 { return g.g.At(g.g.Ny()-1-r, c) }
func (g gridXYZ) X(c int) float64    { return g.g.X0 + (float64(c)+0.5)*g.g.CellSize }
func (g gridXYZ) Y(r int) float64    { return g.g.Y0 + (float64(r)+0.5)*g.g.CellSize }

const (
	legendHeight = 50
	minMapHeight = 100
)

// Preview draws a heat map of g with a color legend and writes it to w
// in PNG format. The image is width points wide.
func Preview(w io.Writer, g *treecl.Grid, title string, width int) error {
	s := g.Summary()
	if s.Valid == 0 {
		return fmt.Errorf("treecl: cannot preview %s: it has no valid cells", title)
	}
	if width <= 0 {
		return fmt.Errorf("treecl: invalid preview width %d", width)
	}
	min, max := s.Min, s.Max
	if max == min {
		max = min + 1
	}
	cm := moreland.ExtendedBlackBody()
	cm.SetMin(min)
	cm.SetMax(max)

	h := plotter.NewHeatMap(gridXYZ{g: g}, cm.Palette(255))
	h.Min, h.Max = min, max
	h.NaN = color.Transparent
	h.Rasterized = true

	p := plot.New()
	p.Title.Text = title
	p.Add(h)

	l := plot.New()
	l.Add(&plotter.ColorBar{ColorMap: cm})
	l.HideY()
	l.X.Padding = 0

	wd := vg.Length(width)
	ht := wd * vg.Length(float64(g.Ny())/float64(g.Nx()))
	if ht < minMapHeight {
		ht = minMapHeight
	}
	img := vgimg.New(wd, ht+legendHeight)
	dc := draw.New(img)
	top, bottom := splitVertical(dc, legendHeight)
	p.Draw(top)
	l.Draw(bottom)
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return fmt.Errorf("treecl: writing preview: %v", err)
	}
	return nil
}

// splitVertical splits c at height y.
func splitVertical(c draw.Canvas, y vg.Length) (top, bottom draw.Canvas) {
	return draw.Crop(c, 0, 0, y, 0), draw.Crop(c, 0, 0, 0, c.Min.Y-c.Max.Y+y)
}

// SavePreview saves a preview of g to the PNG file at path.
func SavePreview(path string, g *treecl.Grid, title string, width int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("treecl: creating preview file: %v", err)
	}
	if err := Preview(f, g, title, width); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
