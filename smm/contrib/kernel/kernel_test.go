// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package kernel

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/x448/float16"

	"github.com/ajroetker/go-smm/smm"
)

var testLevels = []smm.DispatchLevel{smm.DispatchScalar, smm.DispatchNEON, smm.DispatchAVX2}

// refGEMM is the textbook triple loop on the logical (untransposed) operands.
func refGEMM(d smm.Descriptor, a, b []float64, c []float64) {
	get := func(x []float64, ld, r, col int, trans bool) float64 {
		if trans {
			return x[col*ld+r]
		}
		return x[r*ld+col]
	}
	for i := range d.M() {
		for j := range d.N() {
			var sum float64
			for p := range d.K() {
				sum += get(a, d.LDA(), i, p, d.HasFlags(smm.FlagTransA)) * get(b, d.LDB(), p, j, d.HasFlags(smm.FlagTransB))
			}
			if d.Accumulates() {
				c[i*d.LDC()+j] += sum
			} else {
				c[i*d.LDC()+j] = sum
			}
		}
	}
}

func randFloats(rng *rand.Rand, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(rng.IntN(9) - 4) // small integers keep float32 sums exact
	}
	return out
}

func toFloat32(x []float64) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(v)
	}
	return out
}

func TestGEMMVariants(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	shapes := []struct {
		m, n, k, pad int
		flags        smm.Flags
		beta         float64
	}{
		{4, 8, 3, 0, 0, 0},
		{5, 16, 7, 2, 0, 1},
		{3, 5, 4, 1, 0, 0},
		{6, 8, 2, 0, smm.FlagTransA, 1},
		{2, 8, 9, 3, smm.FlagTransB, 0},
		{7, 4, 5, 0, smm.FlagTransA | smm.FlagTransB, 1},
	}
	for _, level := range testLevels {
		compiler := NativeCompiler{Level: level}
		for _, s := range shapes {
			lda, ldb := s.k+s.pad, s.n+s.pad
			if s.flags.Has(smm.FlagTransA) {
				lda = s.m + s.pad
			}
			if s.flags.Has(smm.FlagTransB) {
				ldb = s.k + s.pad
			}
			ldc := s.n + s.pad
			name := fmt.Sprintf("%v/%dx%dx%d/flags=%d/beta=%g", level, s.m, s.n, s.k, s.flags, s.beta)
			t.Run(name, func(t *testing.T) {
				d, err := smm.NewGEMMDescriptor(smm.F32, smm.F32, s.m, s.n, s.k, lda, ldb, ldc, 1, s.beta, s.flags, smm.PrefetchNone)
				if err != nil {
					t.Fatal(err)
				}
				k, err := compiler.Compile(d)
				if err != nil {
					t.Fatal(err)
				}
				la, lb, lc := d.OperandLengths()
				a, b, c := randFloats(rng, la), randFloats(rng, lb), randFloats(rng, lc)
				want := append([]float64(nil), c...)
				refGEMM(d, a, b, want)

				c32 := toFloat32(c)
				if err := InvokeGEMM(k, toFloat32(a), toFloat32(b), c32); err != nil {
					t.Fatal(err)
				}
				for i := range s.m {
					for j := range s.n {
						idx := i*ldc + j
						if float64(c32[idx]) != want[idx] {
							t.Fatalf("c[%d,%d] = %v, want %v (variant %v)", i, j, c32[idx], want[idx], k.Variant())
						}
					}
				}
			})
		}
	}
}

func TestVariantSelection(t *testing.T) {
	tests := []struct {
		level smm.DispatchLevel
		n     int
		flags smm.Flags
		want  Variant
	}{
		{smm.DispatchScalar, 16, 0, VariantGenericScalar},
		{smm.DispatchAVX2, 16, 0, VariantVectorSpecialized},
		{smm.DispatchAVX2, 12, 0, VariantGenericScalar},
		{smm.DispatchNEON, 12, 0, VariantVectorSpecialized},
		{smm.DispatchAVX2, 16, smm.FlagTransB, VariantGenericScalar},
	}
	for _, tt := range tests {
		d, err := smm.NewGEMMDescriptor(smm.F32, smm.F32, 4, tt.n, 4, 16, 16, 16, 1, 0, tt.flags, smm.PrefetchNone)
		if err != nil {
			t.Fatal(err)
		}
		k, err := NativeCompiler{Level: tt.level}.Compile(d)
		if err != nil {
			t.Fatal(err)
		}
		if k.Variant() != tt.want {
			t.Errorf("%v n=%d flags=%d: Variant() = %v, want %v", tt.level, tt.n, tt.flags, k.Variant(), tt.want)
		}
	}
}

func TestGEMMFloat64(t *testing.T) {
	d, _ := smm.NewGEMMDescriptor(smm.F64, smm.F64, 2, 2, 2, 2, 2, 2, 1, 0, 0, smm.PrefetchNone)
	k, err := NativeCompiler{Level: smm.DispatchAVX2}.Compile(d)
	if err != nil {
		t.Fatal(err)
	}
	a := []float64{1, 2, 3, 4}
	b := []float64{5, 6, 7, 8}
	c := []float64{100, 100, 100, 100}
	if err := InvokeGEMM(k, a, b, c); err != nil {
		t.Fatal(err)
	}
	want := []float64{19, 22, 43, 50}
	for i := range want {
		if c[i] != want[i] {
			t.Errorf("c[%d] = %v, want %v", i, c[i], want[i])
		}
	}
	if _, err := GEMM[float32, float32](k); !errors.Is(err, smm.ErrDatatypeMismatch) {
		t.Errorf("GEMM[float32] on f64 kernel error = %v, want ErrDatatypeMismatch", err)
	}
}

func TestGEMMHalfPrecision(t *testing.T) {
	a32 := []float32{1, 2, 3, 4, 5, 6}            // 2x3
	b32 := []float32{1, 0, 0, 1, 1, 1}            // 3x2
	want := []float32{1 + 3, 2 + 3, 4 + 6, 5 + 6} // 2x2

	t.Run("bf16", func(t *testing.T) {
		d, _ := smm.NewGEMMDescriptor(smm.BF16, smm.F32, 2, 2, 3, 3, 2, 2, 1, 0, 0, smm.PrefetchNone)
		k, err := NativeCompiler{Level: smm.DispatchScalar}.Compile(d)
		if err != nil {
			t.Fatal(err)
		}
		if k.ScratchSize() != 6+6 {
			t.Errorf("ScratchSize() = %d, want 12", k.ScratchSize())
		}
		a, b := make([]smm.BFloat16, 6), make([]smm.BFloat16, 6)
		smm.Float32sToBFloat16(a32, a)
		smm.Float32sToBFloat16(b32, b)
		c := make([]float32, 4)
		if err := InvokeGEMM(k, a, b, c); err != nil {
			t.Fatal(err)
		}
		for i := range want {
			if c[i] != want[i] {
				t.Errorf("c[%d] = %v, want %v", i, c[i], want[i])
			}
		}
	})
	t.Run("f16", func(t *testing.T) {
		d, _ := smm.NewGEMMDescriptor(smm.F16, smm.F32, 2, 2, 3, 3, 2, 2, 1, 0, 0, smm.PrefetchNone)
		k, err := NativeCompiler{Level: smm.DispatchNEON}.Compile(d)
		if err != nil {
			t.Fatal(err)
		}
		a, b := make([]float16.Float16, 6), make([]float16.Float16, 6)
		for i := range a32 {
			a[i], b[i] = float16.Fromfloat32(a32[i]), float16.Fromfloat32(b32[i])
		}
		c := make([]float32, 4)
		scratch := make([]float32, k.ScratchSize())
		if err := InvokeGEMMScratch(k, a, b, c, scratch); err != nil {
			t.Fatal(err)
		}
		for i := range want {
			if c[i] != want[i] {
				t.Errorf("c[%d] = %v, want %v", i, c[i], want[i])
			}
		}
		if err := InvokeGEMMScratch(k, a, b, c, scratch[:3]); !errors.Is(err, smm.ErrAllocation) {
			t.Errorf("short scratch error = %v, want ErrAllocation", err)
		}
	})
}

func TestInvokeGEMMErrors(t *testing.T) {
	d, _ := smm.NewGEMMDescriptor(smm.F32, smm.F32, 2, 2, 2, 2, 2, 2, 1, 0, 0, smm.PrefetchAL2)
	k, err := NativeCompiler{}.Compile(d)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]float32, 8)
	tests := []struct {
		name    string
		a, b, c []float32
		pa      []float32
		want    error
	}{
		{"missing a", nil, buf[:4], buf[4:], nil, smm.ErrDataNotBound},
		{"short b", buf[:4], buf[4:6], make([]float32, 4), nil, smm.ErrInvalidShape},
		{"c aliases a", buf[:4], make([]float32, 4), buf[2:6], nil, smm.ErrAliasing},
		{"short prefetch", make([]float32, 4), make([]float32, 4), make([]float32, 4), make([]float32, 1), smm.ErrInvalidShape},
		{"ok", make([]float32, 4), make([]float32, 4), make([]float32, 4), make([]float32, 4), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := InvokeGEMMPrefetch(k, tt.a, tt.b, tt.c, tt.pa, nil, nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("InvokeGEMMPrefetch() error = %v, want %v", err, tt.want)
			}
		})
	}
	if err := InvokeGEMM[float32, float32](nil, buf, buf, buf); !errors.Is(err, smm.ErrDataNotBound) {
		t.Errorf("nil kernel error = %v, want ErrDataNotBound", err)
	}
}

func TestTransposeKernel(t *testing.T) {
	for _, level := range testLevels {
		for _, shape := range [][4]int{{3, 5, 5, 3}, {17, 9, 11, 20}, {16, 16, 16, 16}, {1, 1, 1, 1}, {40, 33, 35, 41}, {64, 64, 64, 64}} {
			m, n, ldi, ldo := shape[0], shape[1], shape[2], shape[3]
			d, err := smm.NewTransposeDescriptor(smm.I32, m, n, ldi, ldo)
			if err != nil {
				t.Fatal(err)
			}
			k, err := NativeCompiler{Level: level}.Compile(d)
			if err != nil {
				t.Fatal(err)
			}
			in := make([]int32, (m-1)*ldi+n)
			for i := range in {
				in[i] = int32(i)
			}
			out := make([]int32, (n-1)*ldo+m)
			if err := InvokeTranspose(k, in, out); err != nil {
				t.Fatal(err)
			}
			for i := range m {
				for j := range n {
					if out[j*ldo+i] != in[i*ldi+j] {
						t.Fatalf("%v %v: out[%d,%d] = %d, want %d", level, shape, j, i, out[j*ldo+i], in[i*ldi+j])
					}
				}
			}
			if m == n && ldi == ldo {
				if err := InvokeTranspose(k, in, in); !errors.Is(err, smm.ErrAliasing) {
					t.Errorf("in-place InvokeTranspose error = %v, want ErrAliasing", err)
				}
			}
		}
	}
}

func TestReduceKernels(t *testing.T) {
	for _, level := range testLevels {
		for _, e := range []int{4, 7, 64} {
			c := NativeCompiler{Level: level}
			rd, _ := smm.NewReduceColsIdxDescriptor(smm.F32, smm.I64, e, e)
			sd, _ := smm.NewReduceSquaredDescriptor(smm.F32, e)
			ad, _ := smm.NewScaleAccumulateDescriptor(smm.F32, e, e)
			rk, _ := c.Compile(rd)
			sk, _ := c.Compile(sd)
			ak, _ := c.Compile(ad)
			reduce, err := ReduceColsIdx[float32, int64](rk)
			if err != nil {
				t.Fatal(err)
			}
			squared, err := ReduceSquared[float32](sk)
			if err != nil {
				t.Fatal(err)
			}
			scale, err := ScaleAccumulate[float32](ak)
			if err != nil {
				t.Fatal(err)
			}

			table := make([]float32, 3*e)
			for i := range table {
				table[i] = float32(i % 5)
			}
			out := make([]float32, e)
			for i := range out {
				out[i] = 99 // must be overwritten
			}
			reduce(table, []int64{2, 0, 2}, out)
			var wantSS float32
			for j := range e {
				want := table[2*e+j]*2 + table[j]
				if out[j] != want {
					t.Fatalf("%v e=%d: reduce out[%d] = %v, want %v", level, e, j, out[j], want)
				}
				wantSS += want * want
			}
			if got := squared(out); got != wantSS {
				t.Errorf("%v e=%d: squared = %v, want %v", level, e, got, wantSS)
			}
			acc := make([]float32, e)
			scale(out, acc, 0.5)
			for j := range e {
				if acc[j] != out[j]*0.5 {
					t.Fatalf("%v e=%d: acc[%d] = %v, want %v", level, e, j, acc[j], out[j]*0.5)
				}
			}
		}
	}
}

func TestCompileDeterminism(t *testing.T) {
	d1, _ := smm.NewGEMMDescriptor(smm.F64, smm.F64, 5, 8, 6, 6, 8, 8, 1, 0, 0, smm.PrefetchNone)
	d2, _ := smm.NewGEMMDescriptor(smm.F64, smm.F64, 5, 8, 6, 6, 8, 8, 1, 0, 0, smm.PrefetchNone)
	cache := NewCache(NativeCompiler{Level: smm.DispatchAVX2})
	k1, _ := cache.Dispatch(d1)
	k2, _ := NewCache(NativeCompiler{Level: smm.DispatchAVX2}).Dispatch(d2)
	rng := rand.New(rand.NewPCG(3, 4))
	a := make([]float64, 30)
	b := make([]float64, 48)
	for i := range a {
		a[i] = rng.Float64()
	}
	for i := range b {
		b[i] = rng.Float64()
	}
	c1, c2 := make([]float64, 40), make([]float64, 40)
	_ = InvokeGEMM(k1, a, b, c1)
	_ = InvokeGEMM(k2, a, b, c2)
	for i := range c1 {
		if math.Float64bits(c1[i]) != math.Float64bits(c2[i]) {
			t.Fatalf("c1[%d] = %v, c2[%d] = %v, want bit-identical", i, c1[i], i, c2[i])
		}
	}
}
