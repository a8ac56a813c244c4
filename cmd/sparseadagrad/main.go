// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

// Command sparseadagrad benchmarks the fused sparse AdaGrad update of
// embedding tables.
//
// Usage:
//
//	sparseadagrad [iters N E M S P]
//
// iters is the number of timed iterations, N the minibatch size, E the
// embedding width, M the rows per table, S the number of tables and P the
// average number of indices per lookup. Setting SMM_VERIFY_CORRECTNESS
// prints the sum of all table entries after the run.
package main

import (
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/ajroetker/go-smm/smm"
	"github.com/ajroetker/go-smm/smm/contrib/embedding"
	"github.com/ajroetker/go-smm/smm/contrib/kernel"
	"github.com/ajroetker/go-smm/smm/contrib/sparse"
	"github.com/ajroetker/go-smm/smm/contrib/workerpool"
)

const (
	learningRate = -0.1
	epsilon      = 1e-6
	maxWarmup    = 2
)

type params struct {
	iters, n, e, m, s, p int
	seed                 uint64
	threads              int
	verify               bool
}

func defaultParams() params {
	return params{iters: 100, n: 2048, e: 64, m: 1000000, s: 8, p: 100, seed: 777}
}

func main() {
	klog.InitFlags(nil)
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	p := defaultParams()
	cmd := &cobra.Command{
		Use:   "sparseadagrad [iters N E M S P]",
		Short: "Benchmark the fused sparse AdaGrad update of embedding tables",
		Long: fmt.Sprintf(`Benchmark the fused sparse AdaGrad update of embedding tables.

  iters: Number of iterations (= %d)
  N: Minibatch (= %d)
  E: embedding row width (= %d)
  M: Number of rows per table (= %d)
  S: Number of Tables (= %d)
  P: Average number of indices per look up (= %d)`, p.iters, p.n, p.e, p.m, p.s, p.p),
		Args:         cobra.MaximumNArgs(6),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dst := []*int{&p.iters, &p.n, &p.e, &p.m, &p.s, &p.p}
			for i, arg := range args {
				v, err := strconv.Atoi(arg)
				if err != nil || v <= 0 {
					return fmt.Errorf("argument %d (%q) must be a positive integer", i+1, arg)
				}
				*dst[i] = v
			}
			_, p.verify = os.LookupEnv("SMM_VERIFY_CORRECTNESS")
			return run(cmd.OutOrStdout(), p)
		},
	}
	cmd.Flags().Uint64Var(&p.seed, "seed", p.seed, "random seed of the generated inputs")
	cmd.Flags().IntVar(&p.threads, "threads", 0, "worker threads (0 uses GOMAXPROCS)")
	cmd.Flags().AddGoFlagSet(flag.CommandLine)
	return cmd
}

// input is one generated minibatch for one table.
type input struct {
	grouped *sparse.Grouped
	grad    []float32
	ns      int
}

func generate(rng *rand.Rand, pool *workerpool.Pool, p params) input {
	fwd := sparse.Random(rng, p.n, p.p, p.m)
	grad := make([]float32, p.n*p.e)
	for i := range grad {
		grad[i] = float32(rng.Float64()*0.02 - 0.01)
	}
	return input{grouped: sparse.Transpose(pool, fwd), grad: grad, ns: fwd.NNZ()}
}

func run(w io.Writer, p params) error {
	fmt.Fprintf(w, "Using: iters: %d N: %d E: %d M: %d S: %d P: %d\n", p.iters, p.n, p.e, p.m, p.s, p.p)

	pool := workerpool.New(p.threads)
	defer pool.Close()
	cache := kernel.DefaultCache()

	tables := make([]*embedding.Bag, p.s)
	inputs := make([][]input, p.iters) // [iteration][table]
	for i := range inputs {
		inputs[i] = make([]input, p.s)
	}
	for s := range p.s {
		bag, err := embedding.NewBag(cache, p.m, p.e)
		if err != nil {
			return err
		}
		defer bag.Close()
		tables[s] = bag
		rng := rand.New(rand.NewPCG(p.seed, uint64(s)))
		for i := range p.iters {
			inputs[i][s] = generate(rng, pool, p)
		}
	}
	all := lo.Flatten(inputs)
	totalNS := lo.SumBy(all, func(in input) int { return in.ns })
	totalU := lo.SumBy(all, func(in input) int { return in.grouped.Groups() })
	klog.V(1).Infof("generated %d minibatches, %d indices, %d groups", len(all), totalNS, totalU)

	update := func(i int) error {
		for s, bag := range tables {
			in := inputs[i][s]
			if err := bag.FusedBackwardUpdateAdaGrad(pool, in.grouped, in.grad, learningRate, epsilon); err != nil {
				return err
			}
		}
		return nil
	}

	for i := range min(p.iters, maxWarmup) {
		t0 := time.Now()
		if err := update(i); err != nil {
			return err
		}
		fmt.Fprintf(w, "Warmup Iter %4d: Time = %.3f ms\n", i, ms(time.Since(t0)))
	}

	var updateTime time.Duration
	start := time.Now()
	for i := range p.iters {
		t0 := time.Now()
		if err := update(i); err != nil {
			return err
		}
		updateTime += time.Since(t0)
	}
	total := time.Since(start)

	r := traffic(p, totalNS, totalU)
	runs := float64(p.iters * p.s)
	fmt.Fprintf(w, "Iters = %d, LS = %d, N = %d, M = %d, E = %d, avgNS = %d, avgU = %d, P = %d\n",
		p.iters, p.s, p.n, p.m, p.e, totalNS/(p.iters*p.s), totalU/(p.iters*p.s), p.p)
	fmt.Fprintf(w, "Per Iter  Time: %.3f ms  Total: %.3f ms\n", ms(updateTime)/float64(p.iters), ms(total)/float64(p.iters))
	fmt.Fprintf(w, "Per Table Time: %.3f ms  Total: %.3f ms\n", ms(updateTime)/runs, ms(total)/runs)

	gbs := func(bytes int) float64 {
		return float64(bytes) / (1 << 30) / updateTime.Seconds()
	}
	fmt.Fprintf(w, "BW: RD Min: %.3f GB/s   Max: %.3f GB/s\n", gbs(r.minRead), gbs(r.maxRead))
	fmt.Fprintf(w, "BW: WR Min: %.3f GB/s   Max: %.3f GB/s\n", gbs(r.minWrite), gbs(r.maxWrite))
	fmt.Fprintf(w, "BW: TT Min: %.3f GB/s   Max: %.3f GB/s\n", gbs(r.minRead+r.minWrite), gbs(r.maxRead+r.maxWrite))

	if p.verify {
		checksum := lo.SumBy(tables, func(b *embedding.Bag) float64 { return b.Checksum() })
		fmt.Fprintf(w, "Checksum = %g\n", checksum)
	}
	return nil
}

// bytesMoved bounds the memory traffic of the timed updates.
type bytesMoved struct {
	minRead, maxRead, minWrite, maxWrite int
}

// traffic counts U·(E+1) table and accumulator values read and written
// (a full cache line per accumulator for the upper bound), the grouped
// indices and the gradients.
func traffic(p params, totalNS, totalU int) bytesMoved {
	const f, i = 4, 8
	runs := p.iters * p.s
	shared := (totalNS+totalU)*i + runs*p.n*p.e*f + runs*p.n*i
	return bytesMoved{
		minRead:  totalU*(p.e+1)*f + shared,
		maxRead:  totalU*(p.e+smm.CacheLine/f)*f + shared,
		minWrite: totalU * (p.e + 1) * f,
		maxWrite: totalU * (p.e + smm.CacheLine/f) * f,
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
