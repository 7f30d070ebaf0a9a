package lumen

import "golang.org/x/exp/constraints"

type numeric interface {
	constraints.Integer | constraints.Float
}

// Rect is an axis aligned rectangle with its origin in the top left corner,
// the convention of viewport and scissor coordinates.
type Rect[T numeric] struct {
	X, Y T
	W, H T
}

func RectOf[T numeric](x, y, w, h T) Rect[T] {
	return Rect[T]{X: x, Y: y, W: w, H: h}
}

func (r Rect[T]) Empty() bool {
	return r.W <= 0 || r.H <= 0
}

func (r Rect[T]) Contains(x, y T) bool {
	return x >= r.X && y >= r.Y && x < r.X+r.W && y < r.Y+r.H
}
