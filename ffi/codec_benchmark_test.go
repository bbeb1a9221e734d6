package ffi

import (
	"context"
	"testing"
)

func BenchmarkCodec(b *testing.B) {
	c, err := CodecFor[nested]()
	if err != nil {
		b.Fatal(err)
	}
	buf := make([]byte, c.Layout().Size)
	var v nested

	b.Run("Encode", func(b *testing.B) {
		b.ReportAllocs()
		for b.Loop() {
			if err := c.Encode(buf, v); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Decode", func(b *testing.B) {
		b.ReportAllocs()
		for b.Loop() {
			if _, err := c.Decode(buf); err != nil {
				b.Fatal(err)
			}
		}
	})
}

func BenchmarkVecPush(b *testing.B) {
	ctx := context.Background()
	s, _ := newSpace(b)
	b.ReportAllocs()
	for b.Loop() {
		v, err := VecWithCapacity[uint32](ctx, s, 0)
		if err != nil {
			b.Fatal(err)
		}
		for i := range 64 {
			if err := v.Push(ctx, uint32(i)); err != nil {
				b.Fatal(err)
			}
		}
		if err := v.Release(ctx); err != nil {
			b.Fatal(err)
		}
	}
}
