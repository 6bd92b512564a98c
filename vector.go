package main

import "math"

// Vector is a 2D position, velocity or displacement
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns a + b
func (a Vector) Add(b Vector) Vector {
	return Vector{X: a.X + b.X, Y: a.Y + b.Y}
}

// Mul scales the vector by s
func (a Vector) Mul(s float64) Vector {
	return Vector{X: a.X * s, Y: a.Y * s}
}

// Len returns the vector magnitude
func (a Vector) Len() float64 {
	return math.Hypot(a.X, a.Y)
}

// Direction returns the unit vector pointing along angle (radians)
func Direction(angle float64) Vector {
	return Vector{X: math.Cos(angle), Y: math.Sin(angle)}
}
