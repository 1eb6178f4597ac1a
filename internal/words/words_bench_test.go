package words

import (
	"context"
	"strings"
	"testing"
)

var sampleTexts = map[string]string{
	"short": "The quick brown fox jumps over the lazy dog",
	"medium": `Incremental indexes keep a forward snapshot per input so that a new
        indexing pass only touches the keys whose values changed. The reverse
        index maps every key to a small container of values and input ids, and
        most keys hold a single value shared by many inputs.`,
	"long": strings.Repeat(`Storage engines combine write buffering, append-only
        deltas, and periodic compaction. Readers see a consistent view while a
        flush runs because rows are pinned until they reach the log. Caches are
        dropped under memory pressure and reloaded lazily on the next lookup. `, 20),
}

func BenchmarkIndex(b *testing.B) {
	ctx := context.Background()
	for name, text := range sampleTexts {
		b.Run(name, func(b *testing.B) {
			b.ReportAllocs()
			b.SetBytes(int64(len(text)))
			for i := 0; i < b.N; i++ {
				if _, err := Index(ctx, text); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkIndexParallel(b *testing.B) {
	ctx := context.Background()
	text := sampleTexts["medium"]
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := Index(ctx, text); err != nil {
				b.Error(err)
				return
			}
		}
	})
}

func BenchmarkStem(b *testing.B) {
	words := []string{
		"running", "distributed", "searching", "indexing",
		"tokenization", "normalization", "efficiently",
		"processing", "infrastructure", "scalability",
	}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		for _, w := range words {
			_ = stem(w)
		}
	}
}
