package detection

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// Preprocess decodes an encoded still, resizes it to size x size and
// returns an NHWC float32 RGB tensor scaled to [0, 1]. Alpha is dropped.
func Preprocess(data []byte, size int) ([]float32, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Stage: "image", Reason: "empty payload"}
	}
	if size <= 0 {
		return nil, &DecodeError{Stage: "image", Reason: "invalid input size"}
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Stage: "image", Reason: err.Error()}
	}

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	tensor := make([]float32, size*size*3)
	for y := 0; y < size; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+size*4]
		for x := 0; x < size; x++ {
			o := (y*size + x) * 3
			p := row[x*4 : x*4+4]
			tensor[o] = float32(p[0]) / 255
			tensor[o+1] = float32(p[1]) / 255
			tensor[o+2] = float32(p[2]) / 255
		}
	}
	return tensor, nil
}
