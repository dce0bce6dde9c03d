// Package benchmark contains Go benchmarks for the motif index and search
// pipeline, measuring throughput and allocation behaviour on synthetic
// structures.
package benchmark

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/index/bucket"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/structidx"
	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/structure"
	"gonum.org/v1/gonum/spatial/r3"
)

var aminoAcids = []descriptor.ResidueType{
	descriptor.Alanine, descriptor.Glycine, descriptor.Serine, descriptor.Histidine,
	descriptor.AsparticAcid, descriptor.Leucine, descriptor.Lysine, descriptor.Tryptophan,
}

// synthetic builds a structure of n residues spread along a chain with
// some jitter, so neighbourhoods look roughly like a folded protein.
func synthetic(b *testing.B, id string, n int, rng *rand.Rand) *structure.Structure {
	b.Helper()
	residues := make([]structure.Residue, n)
	pos := r3.Vec{}
	for i := range residues {
		pos = r3.Add(pos, r3.Vec{X: rng.Float64()*4 - 2, Y: rng.Float64()*4 - 2, Z: rng.Float64()*4 - 2})
		residues[i] = structure.Residue{
			Label:     structure.ResidueLabel{Chain: "A", Seq: i + 1},
			Type:      aminoAcids[rng.IntN(len(aminoAcids))],
			Backbone:  pos,
			SideChain: r3.Add(pos, r3.Vec{X: rng.Float64() * 2, Y: rng.Float64() * 2, Z: 1}),
		}
	}
	s, err := structure.New(id, nil, residues)
	if err != nil {
		b.Fatal(err)
	}
	return s
}

type corpus struct {
	ix         *index.InvertedIndex
	provider   *structidx.Provider
	structures []*structure.Structure
}

func buildCorpus(b *testing.B, count, size int, compression bucket.Compression) *corpus {
	b.Helper()
	ix, err := index.Open(index.Options{
		Dir:     b.TempDir(),
		Workers: 4,
		Codec:   bucket.NewCodec(compression, 64),
	})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { ix.Close() })

	c := &corpus{ix: ix, provider: structidx.New()}
	rng := rand.New(rand.NewPCG(1, 2))
	batch := ix.NewBatch()
	for i := 0; i < count; i++ {
		s := synthetic(b, fmt.Sprintf("S%04d", i), size, rng)
		idx, _, err := c.provider.Acquire(s.ID)
		if err != nil {
			b.Fatal(err)
		}
		occs, err := structure.GraphBuilder{Cutoff: 12}.Build(s)
		if err != nil {
			b.Fatal(err)
		}
		batch.Add(idx, occs)
		c.structures = append(c.structures, s)
	}
	if err := batch.Flush(); err != nil {
		b.Fatal(err)
	}
	if err := ix.Commit(context.Background()); err != nil {
		b.Fatal(err)
	}
	return c
}

// BenchmarkGraphBuild measures residue-graph construction for structures of
// increasing size.
func BenchmarkGraphBuild(b *testing.B) {
	for _, n := range []int{100, 500, 2000} {
		b.Run(fmt.Sprintf("residues_%d", n), func(b *testing.B) {
			s := synthetic(b, "BENCH", n, rand.New(rand.NewPCG(3, 4)))
			g := structure.GraphBuilder{Cutoff: 12}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := g.Build(s); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkBucketCodec measures encode and decode of a 1 000-structure
// bucket under each compression.
func BenchmarkBucketCodec(b *testing.B) {
	builder := bucket.NewBuilder()
	for s := uint32(0); s < 1000; s++ {
		for j := uint32(0); j < 3; j++ {
			id := descriptor.MustIdentifier(descriptor.ResidueRef{Index: j * 7}, descriptor.ResidueRef{Index: j*7 + s%50 + 1})
			builder.Add(s, id)
		}
	}
	bk := builder.Build()

	for _, comp := range []bucket.Compression{bucket.CompressionNone, bucket.CompressionZstd, bucket.CompressionLZ4} {
		codec := bucket.NewCodec(comp, 0)
		data, err := codec.Encode(bk)
		if err != nil {
			b.Fatal(err)
		}
		b.Run(comp.String()+"/encode", func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := codec.Encode(bk); err != nil {
					b.Fatal(err)
				}
			}
		})
		b.Run(comp.String()+"/decode", func(b *testing.B) {
			b.SetBytes(int64(len(data)))
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := codec.Decode(data); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkCommit measures a commit of 10 new structures on top of corpora
// of increasing size.
func BenchmarkCommit(b *testing.B) {
	for _, preload := range []int{10, 100} {
		b.Run(fmt.Sprintf("preload_%d", preload), func(b *testing.B) {
			c := buildCorpus(b, preload, 150, bucket.CompressionZstd)
			rng := rand.New(rand.NewPCG(5, 6))
			g := structure.GraphBuilder{Cutoff: 12}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				batch := c.ix.NewBatch()
				for j := 0; j < 10; j++ {
					b.StopTimer()
					s := synthetic(b, fmt.Sprintf("N%d-%d", i, j), 150, rng)
					occs, err := g.Build(s)
					if err != nil {
						b.Fatal(err)
					}
					b.StartTimer()
					batch.Add(uint32(preload+i*10+j), occs)
				}
				if err := batch.Flush(); err != nil {
					b.Fatal(err)
				}
				if err := c.ix.Commit(context.Background()); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkSelectParallel measures concurrent bucket lookups, mostly served
// from the read cache.
func BenchmarkSelectParallel(b *testing.B) {
	c := buildCorpus(b, 50, 200, bucket.CompressionLZ4)
	occs, err := structure.GraphBuilder{Cutoff: 12}.Build(c.structures[0])
	if err != nil {
		b.Fatal(err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if _, err := c.ix.Select(occs[i%len(occs)].Descriptor); err != nil {
				b.Fatal(err)
			}
			i++
		}
	})
}
