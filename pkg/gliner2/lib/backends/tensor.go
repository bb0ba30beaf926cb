// Copyright 2026 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backends

import (
	"math"

	"github.com/antflydb/gliner2/pkg/gliner2/lib/errdefs"
)

// Tensor is a contiguous row-major buffer with a shape. Data is one of
// []float32, []uint16 (IEEE 754 half payload), or []int32.
type Tensor struct {
	Shape []int64
	Data  any
}

// Float32s builds a float32 tensor.
func Float32s(shape []int64, data []float32) Tensor {
	return Tensor{Shape: shape, Data: data}
}

// Int32s builds an int32 tensor.
func Int32s(shape []int64, data []int32) Tensor {
	return Tensor{Shape: shape, Data: data}
}

// Elements returns the element count implied by the shape.
func (t Tensor) Elements() int {
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// Floats returns the tensor payload as float32, widening float16 payloads.
func (t Tensor) Floats() ([]float32, error) {
	switch data := t.Data.(type) {
	case []float32:
		return data, nil
	case []uint16:
		out := make([]float32, len(data))
		for i, bits := range data {
			out[i] = Float16ToFloat32(bits)
		}
		return out, nil
	default:
		return nil, errdefs.InvalidOutputf("tensor payload is %T, want float32 or float16", t.Data)
	}
}

// Ints returns the tensor payload as int32.
func (t Tensor) Ints() ([]int32, error) {
	data, ok := t.Data.([]int32)
	if !ok {
		return nil, errdefs.InvalidOutputf("tensor payload is %T, want int32", t.Data)
	}
	return data, nil
}

// Float16ToFloat32 widens an IEEE 754 binary16 value.
func Float16ToFloat32(bits uint16) float32 {
	sign := uint32(bits>>15) & 1
	exp := uint32(bits>>10) & 0x1f
	frac := uint32(bits) & 0x3ff

	var out uint32
	switch exp {
	case 0:
		if frac == 0 {
			out = sign << 31
		} else {
			// Subnormal: renormalise.
			e := uint32(127 - 15 + 1)
			for frac&0x400 == 0 {
				frac <<= 1
				e--
			}
			frac &= 0x3ff
			out = sign<<31 | e<<23 | frac<<13
		}
	case 0x1f:
		out = sign<<31 | 0xff<<23 | frac<<13
	default:
		out = sign<<31 | (exp+127-15)<<23 | frac<<13
	}
	return math.Float32frombits(out)
}

// checkRank validates a tensor's rank and the fixed dimensions of its
// shape. A want entry of -1 matches any size.
func checkRank(name string, t Tensor, want ...int64) error {
	if len(t.Shape) != len(want) {
		return errdefs.InvalidOutputf("%s: tensor rank %d, want %d", name, len(t.Shape), len(want))
	}
	for i, d := range want {
		if d >= 0 && t.Shape[i] != d {
			return errdefs.InvalidOutputf("%s: dimension %d is %d, want %d", name, i, t.Shape[i], d)
		}
	}
	return nil
}

// nested2 decodes a rank-2 row-major buffer into nested rows.
func nested2(data []float32, rows, cols int) [][]float32 {
	out := make([][]float32, rows)
	for r := 0; r < rows; r++ {
		out[r] = data[r*cols : (r+1)*cols : (r+1)*cols]
	}
	return out
}

// nested3 decodes a rank-3 row-major buffer into nested slices.
func nested3(data []float32, d0, d1, d2 int) [][][]float32 {
	out := make([][][]float32, d0)
	for i := 0; i < d0; i++ {
		out[i] = nested2(data[i*d1*d2:(i+1)*d1*d2], d1, d2)
	}
	return out
}
