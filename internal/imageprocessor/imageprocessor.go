// Package imageprocessor turns uploaded image bytes into the classifier's input tensor.
package imageprocessor

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder

	_ "golang.org/x/image/bmp" // register BMP decoder
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder

	"github.com/example/dermascan/internal/diagnosis"
	"github.com/example/dermascan/internal/model"
)

// Normalize decodes raw image bytes, resizes them to the model input size with
// bilinear interpolation and returns a (1, 224, 224, 3) RGB tensor scaled to [0, 1].
// Decoding failures are returned as *diagnosis.ImageDecodeError.
func Normalize(raw []byte) (*model.Tensor, error) {
	if len(raw) == 0 {
		return nil, &diagnosis.ImageDecodeError{Err: errors.New("empty image")}
	}

	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, &diagnosis.ImageDecodeError{Err: err}
	}
	if src.Bounds().Empty() {
		return nil, &diagnosis.ImageDecodeError{Err: errors.New("image has no pixels")}
	}

	return ToTensor(Resize(src, model.InputWidth, model.InputHeight)), nil
}

// Resize scales img to exactly width x height. Transparency is discarded first
// so colour values are kept as stored rather than premultiplied. The same input
// always yields the same output.
func Resize(img image.Image, width, height int) *image.RGBA {
	src := Flatten(img)
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst
}

// Flatten returns img with every pixel made fully opaque while keeping its
// straight (non-premultiplied) colour. Opaque images are returned unchanged.
func Flatten(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}

	b := img.Bounds()
	out := image.NewNRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			c.A = 0xff
			out.SetNRGBA(x, y, c)
		}
	}
	return out
}

// ToTensor lays img out in NHWC order with a batch of one, dividing each 8-bit
// channel by 255. The alpha byte is ignored.
func ToTensor(img *image.RGBA) *model.Tensor {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]float32, h*w*3)

	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			base := (y*w + x) * 3
			out[base+0] = float32(row[x*4+0]) / 255.0
			out[base+1] = float32(row[x*4+1]) / 255.0
			out[base+2] = float32(row[x*4+2]) / 255.0
		}
	}

	return &model.Tensor{Shape: []int{1, h, w, 3}, Data: out}
}
