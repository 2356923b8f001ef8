package checkout

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/pricing"
)

func TestSigner_RoundTrip(t *testing.T) {
	s := NewSigner([]byte("k1"))
	snap := Snapshot{
		OwnerUserID: "user-1",
		CouponCode:  "GIFTQ2W3E4",
		Total:       22500,
		Lines: []order.Line{
			{ProductID: "p100", Quantity: 2, Price: 10000},
			{ProductID: "p\"quoted\"", Quantity: 1, Price: 5000},
		},
	}

	meta, err := s.Seal(snap)
	require.NoError(t, err)
	assert.Equal(t, "22500", meta[metaTotal])
	assert.Equal(t, "1", meta[metaChunks])
	assert.NotEmpty(t, meta[metaSignature])

	got, err := s.Open(meta)
	require.NoError(t, err)
	assert.Equal(t, snap, *got)
}

func TestSigner_Tampering(t *testing.T) {
	s := NewSigner([]byte("k1"))
	base, err := s.Seal(Snapshot{
		OwnerUserID: "user-1",
		Total:       5000,
		Lines:       []order.Line{{ProductID: "p50", Quantity: 1, Price: 5000}},
	})
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(m map[string]string)
	}{
		{name: "owner swapped", mutate: func(m map[string]string) { m[metaUser] = "attacker" }},
		{name: "coupon injected", mutate: func(m map[string]string) { m[metaCoupon] = "FREE" }},
		{name: "total lowered", mutate: func(m map[string]string) { m[metaTotal] = "1" }},
		{name: "products edited", mutate: func(m map[string]string) { m[chunkKey(0)] = `[{"id":"p50","q":9,"p":1}]` }},
		{name: "chunk count raised", mutate: func(m map[string]string) { m[metaChunks] = "2"; m[chunkKey(1)] = "" }},
		{name: "chunk count missing", mutate: func(m map[string]string) { delete(m, metaChunks) }},
		{name: "extra chunk", mutate: func(m map[string]string) { m[chunkKey(1)] = `,{"id":"p1","q":1,"p":1}` }},
		{name: "signature removed", mutate: func(m map[string]string) { delete(m, metaSignature) }},
		{name: "signature garbage", mutate: func(m map[string]string) { m[metaSignature] = "zz" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := make(map[string]string, len(base))
			for k, v := range base {
				m[k] = v
			}
			tt.mutate(m)
			_, err := s.Open(m)
			require.ErrorIs(t, err, ErrSnapshotTampered)
		})
	}

	t.Run("other key", func(t *testing.T) {
		_, err := NewSigner([]byte("k2")).Open(base)
		require.ErrorIs(t, err, ErrSnapshotTampered)
	})
}

func uuidLines(n int) []order.Line {
	lines := make([]order.Line, n)
	for i := range lines {
		lines[i] = order.Line{
			ProductID: fmt.Sprintf("3f2b8c1e-9d4a-4e7b-8a6f-%012d", i),
			Quantity:  1000,
			Price:     9999999,
		}
	}
	return lines
}

func TestSigner_ChunksLargeCarts(t *testing.T) {
	s := NewSigner([]byte("k1"))
	for _, n := range []int{10, 25, 100} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			snap := Snapshot{
				OwnerUserID: "0b7e6a52-1c3d-4f5e-9a8b-7c6d5e4f3a2b",
				CouponCode:  "GIFTQ2W3E4",
				Total:       pricing.Amount(n) * 9999999000,
				Lines:       uuidLines(n),
			}
			meta, err := s.Seal(snap)
			require.NoError(t, err)

			assert.LessOrEqual(t, len(meta), 50)
			for k, v := range meta {
				assert.LessOrEqual(t, len(v), 500, k)
				assert.LessOrEqual(t, len(k), 40, k)
			}
			assert.NotEqual(t, "1", meta[metaChunks])

			got, err := s.Open(meta)
			require.NoError(t, err)
			assert.Equal(t, snap, *got)

			meta[chunkKey(1)] = strings.Replace(meta[chunkKey(1)], `"q":1000`, `"q":1`, 1)
			_, err = s.Open(meta)
			require.ErrorIs(t, err, ErrSnapshotTampered)
		})
	}
}

func TestSigner_TooLarge(t *testing.T) {
	lines := []order.Line{{ProductID: strings.Repeat("x", chunkSize*maxChunks), Quantity: 1, Price: 1}}
	_, err := NewSigner([]byte("k1")).Seal(Snapshot{OwnerUserID: "u", Total: 1, Lines: lines})
	require.ErrorIs(t, err, ErrSnapshotTooLarge)
}

func TestSplitChunks(t *testing.T) {
	assert.Equal(t, []string{""}, splitChunks("", 4))
	assert.Equal(t, []string{"abcd", "ef"}, splitChunks("abcdef", 4))
	// "é" is two bytes and must not be split across chunks.
	assert.Equal(t, []string{"abc", "éf"}, splitChunks("abcéf", 4))
	assert.Equal(t, "abcéf", strings.Join(splitChunks("abcéf", 4), ""))
}

func TestDecodeLines_IgnoresUnknownKeys(t *testing.T) {
	lines, err := decodeLines(`[{"id":"a","q":2,"p":150,"extra":{"x":[1,2]}}]`)
	require.NoError(t, err)
	assert.Equal(t, []order.Line{{ProductID: "a", Quantity: 2, Price: 150}}, lines)

	_, err = decodeLines(`{"id":"a"}`)
	require.Error(t, err)
}
