// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package stl classifies STL meshes produced by the engine. It reads only
// enough of the data to tell binary from ASCII output and count facets.
package stl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Format is the STL encoding of a mesh.
type Format string

const (
	FormatBinary Format = "binary"
	FormatASCII  Format = "ascii"
)

const (
	headerSize = 80
	countSize  = 4
	facetSize  = 4*3*4 + 2 // normal + 3 vertices, then attribute byte count
)

// ErrNotSTL is returned when data is neither binary nor ASCII STL.
var ErrNotSTL = errors.New("not an STL mesh")

// Info summarizes a mesh.
type Info struct {
	Format Format `json:"format"`
	Facets int    `json:"facets"`
	Header string `json:"header,omitempty"`
}

// Inspect classifies data. Binary STL is recognized when the declared facet
// count matches the data length exactly; this is checked first because a
// binary header may legally begin with "solid".
func Inspect(data []byte) (Info, error) {
	if len(data) >= headerSize+countSize {
		n := binary.LittleEndian.Uint32(data[headerSize:])
		if uint64(headerSize+countSize)+uint64(n)*facetSize == uint64(len(data)) {
			return Info{
				Format: FormatBinary,
				Facets: int(n),
				Header: string(bytes.TrimRight(data[:headerSize], " \x00")),
			}, nil
		}
	}

	trimmed := bytes.TrimSpace(data)
	if bytes.HasPrefix(trimmed, []byte("solid")) && bytes.Contains(trimmed, []byte("endsolid")) {
		line := trimmed
		if i := bytes.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}
		return Info{
			Format: FormatASCII,
			Facets: bytes.Count(trimmed, []byte("endfacet")),
			Header: string(bytes.TrimSpace(bytes.TrimPrefix(line, []byte("solid")))),
		}, nil
	}

	return Info{}, fmt.Errorf("%w (%d bytes)", ErrNotSTL, len(data))
}
