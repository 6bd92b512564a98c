package main

// CheckCollision checks if two circles overlap. Touching circles do not.
func CheckCollision(x1, y1, r1, x2, y2, r2 float64) bool {
	dx := x2 - x1
	dy := y2 - y1
	dist2 := dx*dx + dy*dy
	radSum := r1 + r2
	return dist2 < radSum*radSum
}

// CheckCircleRectCollision checks a circle against a rectangle centred at rc
// with the given width and height.
func CheckCircleRectCollision(c Vector, r float64, rc Vector, w, h float64) bool {
	// Closest point on the rectangle to the circle centre
	nx := Clamp(c.X, rc.X-w/2, rc.X+w/2)
	ny := Clamp(c.Y, rc.Y-h/2, rc.Y+h/2)
	dx := c.X - nx
	dy := c.Y - ny
	return dx*dx+dy*dy < r*r
}

// outsideWorld reports whether pos lies beyond the world rectangle padded by pad
func outsideWorld(pos Vector, pad float64, world World) bool {
	return pos.X < -pad || pos.X > world.Width+pad ||
		pos.Y < -pad || pos.Y > world.Height+pad
}
