// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package kernel

import "github.com/ajroetker/go-smm/smm"

// InvokeGEMM runs the multiplication kernel k on a, b and c. Operands must be
// present and at least as long as the descriptor requires, and c must not
// overlap a or b. Concurrent invocations must not write overlapping regions
// of c.
func InvokeGEMM[In smm.Floats, Out smm.Outputs](k *Kernel, a, b []In, c []Out) error {
	return InvokeGEMMPrefetch(k, a, b, c, nil, nil, nil)
}

// InvokeGEMMPrefetch is InvokeGEMM with the operands of the next call of a
// sequence. The next operands are only validated: Go has no prefetch
// instruction to issue for them.
func InvokeGEMMPrefetch[In smm.Floats, Out smm.Outputs](k *Kernel, a, b []In, c []Out, pa, pb []In, pc []Out) error {
	if k == nil {
		return &smm.Error{Op: "invoke", Err: smm.ErrDataNotBound, Detail: "nil kernel"}
	}
	fn, err := GEMM[In, Out](k)
	if err != nil {
		return err
	}
	if err := CheckGEMMOperands(k.desc, a, b, c); err != nil {
		return err
	}
	if k.desc.Prefetch() != smm.PrefetchNone {
		la, lb, lc := k.desc.OperandLengths()
		if (pa != nil && len(pa) < la) || (pb != nil && len(pb) < lb) || (pc != nil && len(pc) < lc) {
			return smm.Errorf("invoke", smm.ErrInvalidShape, "prefetch operands shorter than %v", k.desc)
		}
	}
	scratch := k.getScratch()
	defer k.putScratch(scratch)
	var s []float32
	if scratch != nil {
		s = *scratch
	}
	fn(a, b, c, s)
	return nil
}

// InvokeGEMMScratch runs k with caller-provided scratch of at least
// k.ScratchSize() values.
func InvokeGEMMScratch[In smm.Floats, Out smm.Outputs](k *Kernel, a, b []In, c []Out, scratch []float32) error {
	fn, err := GEMM[In, Out](k)
	if err != nil {
		return err
	}
	if err := CheckGEMMOperands(k.desc, a, b, c); err != nil {
		return err
	}
	if len(scratch) < k.scratch {
		return smm.Errorf("invoke", smm.ErrAllocation, "scratch of %d values, need %d", len(scratch), k.scratch)
	}
	fn(a, b, c, scratch)
	return nil
}

// CheckGEMMOperands validates operand presence, length and aliasing for d.
func CheckGEMMOperands[In smm.Floats, Out smm.Outputs](d smm.Descriptor, a, b []In, c []Out) error {
	if a == nil || b == nil || c == nil {
		return smm.Errorf("invoke", smm.ErrDataNotBound, "%v", d)
	}
	la, lb, lc := d.OperandLengths()
	if len(a) < la || len(b) < lb || len(c) < lc {
		return smm.Errorf("invoke", smm.ErrInvalidShape, "operand lengths %d,%d,%d, need %d,%d,%d for %v",
			len(a), len(b), len(c), la, lb, lc, d)
	}
	if smm.Overlaps(c[:lc], a[:la]) || smm.Overlaps(c[:lc], b[:lb]) {
		return smm.Errorf("invoke", smm.ErrAliasing, "c overlaps an input of %v", d)
	}
	return nil
}

// InvokeTranspose writes the transpose of in into out using k. in and out
// must not overlap.
func InvokeTranspose[T smm.Elements](k *Kernel, in, out []T) error {
	if k == nil {
		return &smm.Error{Op: "invoke", Err: smm.ErrDataNotBound, Detail: "nil kernel"}
	}
	fn, err := Transpose[T](k)
	if err != nil {
		return err
	}
	d := k.desc
	if in == nil || out == nil {
		return smm.Errorf("invoke", smm.ErrDataNotBound, "%v", d)
	}
	li, lo := (d.M()-1)*d.LDA()+d.N(), (d.N()-1)*d.LDC()+d.M()
	if len(in) < li || len(out) < lo {
		return smm.Errorf("invoke", smm.ErrInvalidShape, "operand lengths %d,%d, need %d,%d for %v", len(in), len(out), li, lo, d)
	}
	if smm.Overlaps(in[:li], out[:lo]) {
		return smm.Errorf("invoke", smm.ErrAliasing, "output overlaps input of %v", d)
	}
	fn(in, out)
	return nil
}
