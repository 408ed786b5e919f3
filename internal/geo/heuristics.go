package geo

import "math"

// maxTwoOptNodes bounds the quadratic 2-opt pass; longer routes keep the
// nearest neighbour order.
const maxTwoOptNodes = 2500

// nearestNeighbourOrder builds a greedy tour starting at coords[0].
func nearestNeighbourOrder(coords []Coord) []int {
	n := len(coords)
	order := make([]int, 0, n)
	if n == 0 {
		return order
	}
	visited := make([]bool, n)
	cur := 0
	visited[0] = true
	order = append(order, 0)
	for len(order) < n {
		next := -1
		best := math.Inf(1)
		for j := 0; j < n; j++ {
			if visited[j] {
				continue
			}
			if d := coords[cur].Distance(coords[j]); d < best {
				best, next = d, j
			}
		}
		visited[next] = true
		order = append(order, next)
		cur = next
	}
	return order
}

// improveOrder2Opt applies 2-opt moves on a closed tour until no move
// shortens it or iterations run out.
func improveOrder2Opt(coords []Coord, order []int, iterations int) []int {
	if iterations <= 0 {
		iterations = 1
	}
	best := append([]int(nil), order...)
	n := len(best)
	if n < 4 {
		return best
	}
	dist := func(i, j int) float64 { return coords[best[i]].Distance(coords[best[j%n]]) }
	for it := 0; it < iterations; it++ {
		improved := false
		for i := 0; i < n-2; i++ {
			for k := i + 2; k < n; k++ {
				if i == 0 && k == n-1 {
					continue
				}
				delta := dist(i, i+1) + dist(k, k+1) - dist(i, k) - dist(i+1, k+1)
				if delta > 1e-3 {
					best = twoOptSwap(best, i+1, k)
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return best
}

func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	// reverse i..k
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}

// TourLength returns the length of the closed tour in meters.
func TourLength(coords []Coord) float64 {
	total := 0.0
	for i := range coords {
		total += coords[i].Distance(coords[(i+1)%len(coords)])
	}
	return total
}
