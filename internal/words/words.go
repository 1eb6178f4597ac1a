// Package words is the stock indexer of the service: it maps a text input to
// its distinct terms, each with an occurrence count and first position.
package words

import (
	"context"
	"encoding/binary"
	"math/bits"

	"github.com/Adithya-Monish-Kumar-K/incremental-index/internal/codec"
	ixerrors "github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/errors"
)

// cancelCheckEvery is how many terms are produced between context checks.
const cancelCheckEvery = 1024

// TermStats describes one term within one input.
type TermStats struct {
	Count uint32 `json:"count"`
	First uint32 `json:"first"`
}

// Index maps text to its term statistics. It polls ctx while scanning so a
// large input can be abandoned.
func Index(ctx context.Context, text string) (map[string]TermStats, error) {
	out := make(map[string]TermStats)
	for pos, term := range Terms(text) {
		if pos%cancelCheckEvery == cancelCheckEvery-1 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		st, seen := out[term]
		if !seen {
			st.First = uint32(pos)
		}
		st.Count++
		out[term] = st
	}
	return out, nil
}

// IndexSize maps text to a single size class: the bit length of its term
// count. Empty text lands in class 0.
func IndexSize(ctx context.Context, text string) (map[int32]struct{}, error) {
	n := 0
	for range Terms(text) {
		n++
		if n%cancelCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	return map[int32]struct{}{int32(bits.Len(uint(n))): {}}, nil
}

// StatsCodec writes TermStats as two uvarints.
type StatsCodec struct{}

var _ codec.Codec[TermStats] = StatsCodec{}

func (StatsCodec) Save(v TermStats) ([]byte, error) {
	b := binary.AppendUvarint(nil, uint64(v.Count))
	return binary.AppendUvarint(b, uint64(v.First)), nil
}

func (StatsCodec) Read(b []byte) (TermStats, error) {
	r := codec.NewReader(b)
	count, err := r.Uvarint()
	if err != nil {
		return TermStats{}, err
	}
	first, err := r.Uvarint()
	if err != nil {
		return TermStats{}, err
	}
	if r.Len() != 0 || count > 1<<32-1 || first > 1<<32-1 {
		return TermStats{}, ixerrors.Corrupt("bad term stats encoding")
	}
	return TermStats{Count: uint32(count), First: uint32(first)}, nil
}
