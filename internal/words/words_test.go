package words

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ixerrors "github.com/Adithya-Monish-Kumar-K/incremental-index/pkg/errors"
)

func collect(text string) []string {
	var out []string
	for _, term := range Terms(text) {
		out = append(out, term)
	}
	return out
}

func TestTerms(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"The quick brown fox", []string{"quick", "brown", "fox"}},
		{"Running runners ran", []string{"runn", "runner", "ran"}},
		{"a I x", nil},
		{"hello, WORLD! hello-again", []string{"hello", "world", "hello", "again"}},
		{"national relational", []string{"nate", "relate"}},
		{"42 answers", []string{"42", "answer"}},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, collect(tt.text))
		})
	}
}

func TestTermsStopsEarly(t *testing.T) {
	n := 0
	for range Terms("one two three four") {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestIndex(t *testing.T) {
	got, err := Index(context.Background(), "search engines search fast; fast search")
	require.NoError(t, err)
	assert.Equal(t, map[string]TermStats{
		"search": {Count: 3, First: 0},
		"engin":  {Count: 1, First: 1},
		"fast":   {Count: 2, First: 3},
	}, got)
}

func TestIndexHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Index(ctx, strings.Repeat("word ", 5000))
	assert.ErrorIs(t, err, context.Canceled)

	got, err := Index(ctx, "short text")
	require.NoError(t, err, "short inputs finish before the first check")
	assert.Len(t, got, 2)
}

func TestStatsCodec(t *testing.T) {
	c := StatsCodec{}
	for _, v := range []TermStats{{}, {Count: 1}, {Count: 300, First: 70000}, {Count: 1<<32 - 1, First: 1<<32 - 1}} {
		b, err := c.Save(v)
		require.NoError(t, err)
		back, err := c.Read(b)
		require.NoError(t, err)
		assert.Equal(t, v, back)
	}
	_, err := c.Read([]byte{0x01})
	assert.ErrorIs(t, err, ixerrors.ErrCorruptData)
	_, err = c.Read([]byte{0x01, 0x02, 0x03})
	assert.ErrorIs(t, err, ixerrors.ErrCorruptData)
}

func TestIndexSize(t *testing.T) {
	tests := []struct {
		text string
		want int32
	}{
		{"", 0},
		{"the a of", 0},
		{"fox", 1},
		{"quick brown fox", 2},
		{"quick brown fox jumps", 3},
		{strings.Repeat("word ", 1000), 10},
	}
	for _, tt := range tests {
		got, err := IndexSize(context.Background(), tt.text)
		require.NoError(t, err)
		assert.Equal(t, map[int32]struct{}{tt.want: {}}, got, "text %q", tt.text)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := IndexSize(ctx, strings.Repeat("word ", 5000))
	assert.ErrorIs(t, err, context.Canceled)
}
