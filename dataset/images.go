package dataset

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/draw"
)

// LoadImageDir decodes the PNG and JPEG files of dir in name order, resizes
// each to spec.ImageSize square and converts it to spec.Channels channels.
func LoadImageDir(dir string, spec Spec, limit int) (*Batch, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".png", ".jpg", ".jpeg":
			if !e.IsDir() {
				names = append(names, e.Name())
			}
		}
	}
	sort.Strings(names)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	b := &Batch{Shape: spec.Shape()}
	for _, name := range names {
		img, err := decodeFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		b.Data = append(b.Data, ToCHW(img, spec.Channels, spec.ImageSize)...)
		b.N++
	}
	return b, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %v: %w", path, err, ErrFormat)
	}
	return img, nil
}

// ToCHW resizes img to size×size and returns channel-major floats in [0, 1].
// One channel yields luminance; three yield RGB.
func ToCHW(img image.Image, channels, size int) []float32 {
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	plane := size * size
	out := make([]float32, channels*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			p := dst.NRGBAAt(x, y)
			i := y*size + x
			if channels == 1 {
				out[i] = (0.299*float32(p.R) + 0.587*float32(p.G) + 0.114*float32(p.B)) / 255
				continue
			}
			out[i] = float32(p.R) / 255
			out[plane+i] = float32(p.G) / 255
			out[2*plane+i] = float32(p.B) / 255
		}
	}
	return out
}
