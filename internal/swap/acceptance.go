package swap

import (
	"math"

	"github.com/nmxmxh/ringswap/internal/core"
)

// drawScale maps the top 63 bits of a random word onto [0,1).
const drawScale = 1 << 63

// ShouldSwap decides whether two nodes exchange locations.
//
// A is the product of each node's distances to its own neighbors under the
// current assignment and B the same product with the two locations exchanged.
// The swap is taken when A >= B and otherwise with probability (A/B)^2, drawn
// from the shared random word. Products are summed as logarithms so long
// neighbor lists cannot underflow to zero.
func ShouldSwap(myLoc float64, myNeighbors []float64, hisLoc float64, hisNeighbors []float64, shared uint64) bool {
	logA := logDistances(myLoc, myNeighbors, myLoc) + logDistances(hisLoc, hisNeighbors, hisLoc)
	logB := logDistances(hisLoc, myNeighbors, hisLoc) + logDistances(myLoc, hisNeighbors, myLoc)

	if logA >= logB {
		return true
	}

	p := math.Exp(2 * (logA - logB))
	draw := float64(shared>>1) / drawScale
	return draw < p
}

// logDistances sums log(distance(from, n)) over neighbors, skipping any
// neighbor located exactly at skip.
func logDistances(from float64, neighbors []float64, skip float64) float64 {
	var sum float64
	for _, n := range neighbors {
		if n == skip {
			continue
		}
		d := core.Distance(from, n)
		if d == 0 {
			continue
		}
		sum += math.Log(d)
	}
	return sum
}
