package optimize

import (
	"context"
	"fmt"
	"math/rand"
	"sort"

	"github.com/rs/zerolog/log"
)

// RandomSearch samples a fixed number of distinct combinations from a grid
// instead of sweeping it exhaustively. Useful when the cartesian product is
// too large to enumerate within a run budget.
type RandomSearch struct {
	GridSearch
	Samples int
	Seed    int64 // 0 seeds from a fixed default for reproducibility
}

// Run draws Samples unique combinations and evaluates them with the grid
// machinery. When the requested sample count covers the whole space the
// search degrades to an exhaustive sweep.
func (rs *RandomSearch) Run(ctx context.Context, grid Grid) ([]Row, error) {
	if err := grid.Validate(); err != nil {
		return nil, err
	}
	if rs.Samples <= 0 {
		return nil, fmt.Errorf("random search: sample count must be positive, got %d", rs.Samples)
	}

	space := grid.Size()
	if rs.Samples >= space {
		log.Debug().
			Int("samples", rs.Samples).
			Int("space", space).
			Msg("random search covers full grid, sweeping exhaustively")
		return rs.GridSearch.Run(ctx, grid)
	}

	seed := rs.Seed
	if seed == 0 {
		seed = 42
	}
	rng := rand.New(rand.NewSource(seed))

	// Uniqueness by flat index into the sorted-name odometer. The retry
	// budget bounds the draw loop when the sample count nears the space.
	seen := make(map[int]struct{}, rs.Samples)
	budget := 5 * rs.Samples
	for len(seen) < rs.Samples && budget > 0 {
		budget--
		seen[rng.Intn(space)] = struct{}{}
	}
	picked := make([]int, 0, len(seen))
	for flat := range seen {
		picked = append(picked, flat)
	}
	sort.Ints(picked)

	rows := make([]Row, 0, len(picked))
	for _, flat := range picked {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Decode the flat index directly; materializing the full product
		// would defeat sampling on the large spaces this exists for.
		if row, ok := rs.evaluate(flat, grid.ComboAt(flat)); ok {
			rows = append(rows, row)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Index < rows[j].Index })
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Sharpe > rows[j].Sharpe })

	log.Info().
		Str("strategy", rs.Factory.Name()).
		Int("sampled", len(picked)).
		Int("space", space).
		Msg("random search complete")

	return rows, nil
}
