package main

import (
	_ "embed"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed maps/default.yaml
var defaultMapYAML []byte

// WallDescriptor is one obstacle entry of a map catalog
type WallDescriptor struct {
	ID     string  `yaml:"id"`
	X      float64 `yaml:"x"`
	Y      float64 `yaml:"y"`
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// MapCatalog is the static obstacle layout a match is built from
type MapCatalog struct {
	Name  string           `yaml:"name"`
	Walls []WallDescriptor `yaml:"walls"`
}

// Wall is an immutable rectangular obstacle centred on Pos
type Wall struct {
	Body
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NewWall builds a wall from catalog data. Its radius is the half-diagonal,
// a circle enclosing the whole rectangle.
func NewWall(d WallDescriptor) *Wall {
	return &Wall{
		Body: Body{
			ID:     d.ID,
			Type:   KindWall,
			Pos:    Vector{X: d.X, Y: d.Y},
			Radius: math.Hypot(d.Width, d.Height) / 2,
			Alive:  true,
		},
		Width:  d.Width,
		Height: d.Height,
	}
}

// DefaultMapCatalog returns the embedded arena layout
func DefaultMapCatalog() MapCatalog {
	cat, err := ParseMapCatalog(defaultMapYAML)
	if err != nil {
		panic("embedded map catalog: " + err.Error())
	}
	return cat
}

// LoadMapCatalog reads a catalog from path, or the embedded default when path is empty
func LoadMapCatalog(path string) (MapCatalog, error) {
	if path == "" {
		return DefaultMapCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return MapCatalog{}, fmt.Errorf("map catalog: read %s: %w", path, err)
	}
	return ParseMapCatalog(data)
}

// ParseMapCatalog decodes and validates catalog YAML
func ParseMapCatalog(data []byte) (MapCatalog, error) {
	var cat MapCatalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return MapCatalog{}, fmt.Errorf("map catalog: parse: %w", err)
	}
	seen := make(map[string]bool, len(cat.Walls))
	for i, w := range cat.Walls {
		if w.ID == "" {
			return MapCatalog{}, fmt.Errorf("map catalog: wall %d has no id", i)
		}
		if seen[w.ID] {
			return MapCatalog{}, fmt.Errorf("map catalog: duplicate wall id %q", w.ID)
		}
		if w.Width <= 0 || w.Height <= 0 {
			return MapCatalog{}, fmt.Errorf("map catalog: wall %q has non-positive size", w.ID)
		}
		seen[w.ID] = true
	}
	return cat, nil
}
