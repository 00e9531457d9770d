package dompage

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

const (
	renderCols = 64
	renderRows = 8
	cellSize   = 4
)

// render rasterizes text into a fixed-size bitmap. There is no layout engine
// behind this browser, so a "screenshot" is a deterministic picture of the
// content: each byte lights the bits of one column and longer texts fold back
// over the grid. Equal content gives equal pixels and small edits change few
// of them, which is what visual comparison needs.
func render(text string) ([]byte, error) {
	var grid [renderCols][renderRows]bool
	for i := 0; i < len(text); i++ {
		col := i % renderCols
		for bit := 0; bit < renderRows; bit++ {
			if text[i]&(1<<uint(bit)) != 0 {
				grid[col][bit] = !grid[col][bit]
			}
		}
	}

	img := image.NewGray(image.Rect(0, 0, renderCols*cellSize, renderRows*cellSize))
	for col := 0; col < renderCols; col++ {
		for row := 0; row < renderRows; row++ {
			shade := color.Gray{Y: 255}
			if grid[col][row] {
				shade = color.Gray{Y: 0}
			}
			for dx := 0; dx < cellSize; dx++ {
				for dy := 0; dy < cellSize; dy++ {
					img.SetGray(col*cellSize+dx, row*cellSize+dy, shade)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
