package source

import (
	"context"
	"errors"
)

// DataSource is the read side of the marketplace indexer. The subgraph client
// is the network implementation and Fixture is the deterministic one.
type DataSource interface {
	Rentals(ctx context.Context, page Page) ([]Rental, error)
	RecentRentals(ctx context.Context, first int) ([]Rental, error)
	RentalStatistics(ctx context.Context) (RentalStatistics, error)
	Proposals(ctx context.Context, page Page) ([]Proposal, error)
	DAOStats(ctx context.Context) (DAOStats, error)
	ActivityFeed(ctx context.Context, page Page) ([]Activity, error)
}

var ErrNotFound = errors.New("not found")

// Window applies first/skip to an already ordered collection.
func Window[T any](items []T, page Page) []T {
	skip := max(page.Skip, 0)
	if skip >= len(items) {
		return []T{}
	}
	end := len(items)
	if page.First > 0 {
		end = min(skip+page.First, len(items))
	}
	out := make([]T, end-skip)
	copy(out, items[skip:end])
	return out
}
