package boundary

import (
	"context"
	"testing"

	"github.com/OpenListTeam/wazero-typeinfo/ffi"
	"github.com/OpenListTeam/wazero-typeinfo/internal/testwasm"
	"github.com/OpenListTeam/wazero-typeinfo/typeinfo"
)

// Benchmark moving the layout of a recursive record through linear memory.
func BenchmarkEncodeDecode(b *testing.B) {
	ctx := context.Background()
	s, _, err := ffi.NewArenaSpace(testwasm.Memory(b))
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(s.Close)
	tl := typeinfo.MustLayoutOf[shape]()

	b.Run("Encode", func(b *testing.B) {
		b.ReportAllocs()
		for b.Loop() {
			box, err := Encode(ctx, s, tl)
			if err != nil {
				b.Fatal(err)
			}
			if err := box.Release(ctx); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Decode", func(b *testing.B) {
		box, err := Encode(ctx, s, tl)
		if err != nil {
			b.Fatal(err)
		}
		defer func() { _ = box.Release(ctx) }()

		b.ReportAllocs()
		for b.Loop() {
			if _, err := Decode(s, box.Ptr()); err != nil {
				b.Fatal(err)
			}
		}
	})
}
