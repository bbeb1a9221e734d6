package ffi

import (
	"context"
	"hash/maphash"
	"iter"
	"strings"
	"unicode/utf8"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
	"github.com/OpenListTeam/wazero-typeinfo/layout"
)

// Str owns UTF-8 text allocated in a Space. Its memory representation is
// {ptr u32, len u32, space u32}. The empty Str has a zero ptr.
type Str struct {
	ptr   uint32
	len   uint32
	space SpaceID
}

// NewStr copies text into a new allocation in s.
func NewStr(ctx context.Context, s *Space, text string) (*Str, error) {
	out := &Str{space: s.id}
	if len(text) == 0 {
		return out, nil
	}
	ptr, err := s.Alloc(ctx, blockLayout(uint32(len(text)), 1))
	if err != nil {
		return nil, err
	}
	if err := s.write(ptr, []byte(text)); err != nil {
		_ = s.Free(ctx, ptr, blockLayout(uint32(len(text)), 1))
		return nil, err
	}
	out.ptr, out.len = ptr, uint32(len(text))
	return out, nil
}

func (s *Str) Ptr() uint32 { return s.ptr }
func (s *Str) Len() int    { return int(s.len) }

// Space resolves the space the text lives in.
func (s *Str) Space() (*Space, error) { return LookupSpace(s.space) }

// Bytes borrows the encoded text.
func (s *Str) Bytes() Slice[byte] {
	return Slice[byte]{ptr: s.ptr, len: s.len, space: s.space}
}

// View reads the text. It fails if the bytes are not valid UTF-8.
func (s *Str) View() (string, error) {
	if s.len == 0 {
		return "", nil
	}
	sp, err := LookupSpace(s.space)
	if err != nil {
		return "", err
	}
	data, err := sp.read(s.ptr, s.len)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(data) {
		return "", errors.InvalidData(errors.PhaseDecode, nil, "Str is not valid UTF-8")
	}
	return string(data), nil
}

// All iterates over the runes and their byte offsets.
func (s *Str) All() iter.Seq2[int, rune] {
	return func(yield func(int, rune) bool) {
		text, err := s.View()
		if err != nil {
			return
		}
		for i, r := range text {
			if !yield(i, r) {
				return
			}
		}
	}
}

// IntoNative moves the text out and frees the allocation.
func (s *Str) IntoNative(ctx context.Context) (string, error) {
	text, err := s.View()
	if err != nil {
		return "", err
	}
	return text, s.Release(ctx)
}

// Release frees the allocation.
func (s *Str) Release(ctx context.Context) error {
	if s.ptr == 0 {
		return nil
	}
	sp, err := LookupSpace(s.space)
	if err != nil {
		return err
	}
	ptr, n := s.ptr, s.len
	s.ptr, s.len = 0, 0
	return sp.Free(ctx, ptr, blockLayout(n, 1))
}

// Clone copies the text through the same allocator.
func (s *Str) Clone(ctx context.Context) (*Str, error) {
	sp, err := LookupSpace(s.space)
	if err != nil {
		return nil, err
	}
	text, err := s.View()
	if err != nil {
		return nil, err
	}
	return NewStr(ctx, sp, text)
}

func (s *Str) cloneInPlace(ctx context.Context) error {
	if s.ptr == 0 {
		return nil
	}
	c, err := s.Clone(ctx)
	if err != nil {
		return err
	}
	*s = *c
	return nil
}

// String returns the text, or a placeholder if it cannot be read.
func (s *Str) checkOwner(c *ownership) error {
	if s.ptr == 0 {
		return nil
	}
	if err := c.enter("str", s.space, s.ptr); err != nil {
		return err
	}
	c.leave()
	return nil
}

func (s Str) String() string {
	text, err := s.View()
	if err != nil {
		return "<" + err.Error() + ">"
	}
	return text
}

var strLayout = MemLayout{Size: 12, Align: 4}

func (s *Str) memLayout() (MemLayout, error) { return strLayout, nil }

func (s *Str) encode(buf []byte) error {
	putHeader(buf, s.ptr, s.len, uint32(s.space))
	return nil
}

func (s *Str) decode(buf []byte) error {
	s.ptr, s.len, s.space = getU32(buf, 0), getU32(buf, 4), SpaceID(getU32(buf, 8))
	if s.ptr == 0 && s.len != 0 {
		return invalidHeader("Str", "null pointer with non-zero length")
	}
	return nil
}

func (s *Str) ReflectLayout(defined layout.DefinedTypes) (layout.FullLayout, error) {
	return headerReflect[Str](defined, nil, sliceFields(layout.Const))
}

// StrEqual compares two texts.
func StrEqual(a, b *Str) (bool, error) {
	x, y, err := strPair(a, b)
	return err == nil && x == y, err
}

// StrCompare orders two texts bytewise.
func StrCompare(a, b *Str) (int, error) {
	x, y, err := strPair(a, b)
	if err != nil {
		return 0, err
	}
	return strings.Compare(x, y), nil
}

// StrHash hashes the text as maphash.String would.
func StrHash(seed maphash.Seed, s *Str) (uint64, error) {
	text, err := s.View()
	if err != nil {
		return 0, err
	}
	return maphash.String(seed, text), nil
}

func strPair(a, b *Str) (string, string, error) {
	x, err := a.View()
	if err != nil {
		return "", "", err
	}
	y, err := b.View()
	return x, y, err
}
