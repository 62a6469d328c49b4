// Package types holds the FlatBuffers wire types.
package types

//go:generate flatc --go -o .. certificate.fbs
