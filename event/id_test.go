package event

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

// TestGeneratorNextIsStrictlyIncreasing verifies that every ID minted by a
// Generator sorts lexicographically after every ID minted before it,
// including IDs minted within the same nanosecond.
func TestGeneratorNextIsStrictlyIncreasing(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("n consecutive IDs from one generator are strictly increasing", prop.ForAll(
		func(n int) bool {
			if n <= 0 {
				return true
			}
			gen := NewGenerator()
			prev := gen.Next()
			for i := 0; i < n; i++ {
				next := gen.Next()
				if !(prev < next) {
					return false
				}
				prev = next
			}
			return true
		},
		gen.IntRange(1, 500),
	))

	properties.TestingRun(t)
}

func TestGeneratorSameWidthIDs(t *testing.T) {
	g := NewGenerator()
	a := g.Next()
	b := g.Next()
	require.Len(t, a, len(b))
}
