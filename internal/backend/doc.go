// Package backend defines the interface an embedded reader runtime must
// implement (a Bio-Formats helper process, an in-process WASI module), along
// with the domain types exchanged between the bridge worker and those
// implementations.
package backend
