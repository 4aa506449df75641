// Package model holds the value types exchanged between the bridge, the
// runtime backends and the outer surfaces: numeric arrays, series
// descriptors, image and metadata bundles, and call journal records.
package model
