package render

import (
	"fmt"
	"sort"

	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
)

var colorMaps = map[string]func() palette.ColorMap{
	"bluered":   func() palette.ColorMap { return moreland.SmoothBlueRed() },
	"blackbody": moreland.BlackBody,
	"kindlmann": moreland.Kindlmann,
}

// ColorMapByName returns a fresh colormap. The empty name and "gray" select
// grayscale, reported as a nil map.
func ColorMapByName(name string) (palette.ColorMap, error) {
	if name == "" || name == "gray" {
		return nil, nil
	}
	mk, ok := colorMaps[name]
	if !ok {
		return nil, fmt.Errorf("render: unknown colormap %q (have gray, %v)", name, ColorMapNames())
	}
	return mk(), nil
}

// ColorMapNames lists the named colormaps.
func ColorMapNames() []string {
	names := make([]string, 0, len(colorMaps))
	for n := range colorMaps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
