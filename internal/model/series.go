package model

import "fmt"

// Series describes one image dataset inside a measurement file.
type Series struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	SizeX int    `json:"size_x"`
	SizeY int    `json:"size_y"`
	SizeZ int    `json:"size_z"`
	SizeT int    `json:"size_t"`
	SizeC int    `json:"size_c"`
	DType DType  `json:"dtype"`
}

// PlaneBytes returns the byte length of one (Y, X) plane. It assumes the
// series passed Validate.
func (s Series) PlaneBytes() int {
	return s.SizeX * s.SizeY * s.DType.Size()
}

// Validate checks that every dimension is positive, the dtype is known and
// the whole series fits in one array.
func (s Series) Validate() error {
	if !s.DType.Valid() {
		return fmt.Errorf("series %d: unsupported dtype %q", s.Index, s.DType)
	}
	dims := []struct {
		name string
		v    int
	}{
		{"X", s.SizeX}, {"Y", s.SizeY}, {"Z", s.SizeZ}, {"T", s.SizeT}, {"C", s.SizeC},
	}
	for _, d := range dims {
		if d.v <= 0 {
			return fmt.Errorf("series %d: size %s = %d, must be positive", s.Index, d.name, d.v)
		}
	}
	if _, err := ArrayBytes(s.DType, s.SizeZ, s.SizeT, s.SizeC, s.SizeY, s.SizeX); err != nil {
		return fmt.Errorf("series %d: %w", s.Index, err)
	}
	return nil
}

// ImageBundle maps a series name to its pixel data ordered (Z, T, C, Y, X)
// with singleton axes removed.
type ImageBundle map[string]Array

// Fields is a flat mapping of metadata field name to scalar value.
type Fields map[string]any

// MetadataBundle maps a series name to its merged image and pixel fields.
type MetadataBundle map[string]Fields

// SeriesKey returns the bundle key for a series. Unnamed series are keyed
// series_<index>; a name already present in taken gets _<index> appended,
// then a counter until the key is free.
func SeriesKey(s Series, taken func(string) bool) string {
	name := s.Name
	if name == "" {
		name = fmt.Sprintf("series_%d", s.Index)
	}
	if !taken(name) {
		return name
	}
	base := fmt.Sprintf("%s_%d", name, s.Index)
	key := base
	for n := 2; taken(key); n++ {
		key = fmt.Sprintf("%s_%d", base, n)
	}
	return key
}
