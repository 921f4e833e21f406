// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package delivery

import (
	"context"
	"image"

	"github.com/grailbio/bigrender/window"
)

// An Image is a captured framebuffer. Pixels are stored row by row,
// Components bytes each.
type Image struct {
	Size       window.Size
	Components int
	Pix        []byte
}

// NewImage returns a zeroed image.
func NewImage(size window.Size, components int) *Image {
	return &Image{
		Size:       size,
		Components: components,
		Pix:        make([]byte, size.Pixels()*components),
	}
}

// RGBA returns an image.RGBA sharing the pixels of a 4-component
// image, or nil for other component counts.
func (m *Image) RGBA() *image.RGBA {
	if m.Components != 4 {
		return nil
	}
	return &image.RGBA{
		Pix:    m.Pix,
		Stride: 4 * m.Size.W,
		Rect:   image.Rect(0, 0, m.Size.W, m.Size.H),
	}
}

func (m *Image) fits(size window.Size, components int) bool {
	return m != nil && m.Size == size && m.Components == components
}

// A Framebuffer is the pixel source of a rendering process.
type Framebuffer interface {
	// ReadPixels reads back the most recently rendered frame.
	ReadPixels(ctx context.Context) (*Image, error)
}
