package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// boxColor is the rectangle color drawn around detected faces.
var boxColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}

const boxThickness = 3

// Annotate draws bounding rectangles around the given face regions and
// re-encodes the photo as JPEG. Boxes are [x1, y1, x2, y2] in raw pixel
// coordinates as returned by the extractor.
func Annotate(imageData []byte, boxes [][]float64) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(imageData))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	rgba := image.NewRGBA(img.Bounds())
	draw.Copy(rgba, image.Point{}, img, img.Bounds(), draw.Src, nil)

	for _, box := range boxes {
		if len(box) != 4 {
			continue
		}
		drawRect(rgba, int(box[0]), int(box[1]), int(box[2]), int(box[3]))
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode annotated image: %w", err)
	}
	return buf.Bytes(), nil
}

// drawRect draws a rectangle outline clipped to the image bounds.
func drawRect(img *image.RGBA, x1, y1, x2, y2 int) {
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}

	for t := range boxThickness {
		for x := x1 - t; x <= x2+t; x++ {
			setIfInside(img, x, y1-t)
			setIfInside(img, x, y2+t)
		}
		for y := y1 - t; y <= y2+t; y++ {
			setIfInside(img, x1-t, y)
			setIfInside(img, x2+t, y)
		}
	}
}

func setIfInside(img *image.RGBA, x, y int) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.Set(x, y, boxColor)
	}
}
