package sample

import "github.com/OpenListTeam/wazero-typeinfo/layout"

type Point struct {
	X, Y int32
}

type Color uint8

const (
	Red Color = iota
	Green
	Blue = Color(7)
)

type (
	Node struct {
		Value Point
		Next  *Node
	}
	Level int
)

type Pair[A, B any] struct {
	First  A
	Second B
}

type Alias = Point

type Named string

type Custom struct{}

func (Custom) TypeUID() layout.TypeUid {
	return layout.TypeUid{Path: "custom"}
}
