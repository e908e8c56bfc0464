package monitor

import (
	"time"

	"github.com/ericvolp12/rental-monitor/pkg/events"
	"github.com/ericvolp12/rental-monitor/pkg/format"
	"github.com/ericvolp12/rental-monitor/pkg/project"
	"github.com/ericvolp12/rental-monitor/pkg/source"
)

type ListResponse[T any] struct {
	Items     []T       `json:"items"`
	Total     int       `json:"total"`
	Page      int       `json:"page"`
	PageSize  int       `json:"pageSize"`
	Loading   bool      `json:"loading"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
	Error     string    `json:"error,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// list filters and sorts items, counts the matches, then cuts out the page.
func list[T project.Item, V any](items []T, q project.Query, view func(T) V) ListResponse[V] {
	matched := project.Filter(items, q)
	project.Sort(matched, q.SortKey, q.SortDir)
	page := project.Paginate(matched, q.Page, q.PageSize)

	size := q.PageSize
	if size < 1 {
		size = project.DefaultPageSize
	}

	out := make([]V, len(page))
	for i, it := range page {
		out[i] = view(it)
	}
	return ListResponse[V]{
		Items:    out,
		Total:    len(matched),
		Page:     q.Page,
		PageSize: min(size, project.MaxPageSize),
	}
}

type EventView struct {
	events.Event
	Summary []string `json:"summary"`
	Time    string   `json:"time"`
	Age     string   `json:"age"`
}

func eventView(now time.Time) func(events.Event) EventView {
	return func(e events.Event) EventView {
		t := format.Timestamp(e.Timestamp)
		return EventView{
			Event:   e,
			Summary: events.Describe(e),
			Time:    t.Format(time.RFC3339),
			Age:     format.TimeAgo(t, now),
		}
	}
}

type RentalView struct {
	source.Rental
	Price       string `json:"price"`
	Total       string `json:"total"`
	Length      string `json:"length"`
	OwnerShort  string `json:"ownerShort"`
	RenterShort string `json:"renterShort"`
	Started     string `json:"started"`
}

func rentalView(now time.Time) func(source.Rental) RentalView {
	return func(r source.Rental) RentalView {
		return RentalView{
			Rental:      r,
			Price:       format.Symbol(format.AmountDecimal(r.PricePerHour, format.TokenDecimals), "SOMI") + "/h",
			Total:       format.Symbol(format.AmountDecimal(r.TotalPrice, format.TokenDecimals), "SOMI"),
			Length:      format.Duration(time.Duration(r.Duration) * time.Second),
			OwnerShort:  format.ShortAddress(r.Owner),
			RenterShort: format.ShortAddress(r.Renter),
			Started:     format.TimeAgo(format.Timestamp(int64(r.StartTime)), now),
		}
	}
}

type ProposalView struct {
	source.Proposal
	ProposerShort string `json:"proposerShort"`
	YesShare      string `json:"yesShare"`
	Ends          string `json:"ends"`
}

func proposalView(p source.Proposal) ProposalView {
	share := "0%"
	total := p.YesVotes.Add(p.NoVotes)
	if total.IsPositive() {
		share = p.YesVotes.Div(total).Shift(2).StringFixed(1) + "%"
	}
	return ProposalView{
		Proposal:      p,
		ProposerShort: format.ShortAddress(p.Proposer),
		YesShare:      share,
		Ends:          format.Timestamp(int64(p.EndTime)).Format(time.RFC3339),
	}
}

type ActivityView struct {
	source.Activity
	UserShort string `json:"userShort"`
	Age       string `json:"age"`
}

func activityView(now time.Time) func(source.Activity) ActivityView {
	return func(a source.Activity) ActivityView {
		return ActivityView{
			Activity:  a,
			UserShort: format.ShortAddress(a.User),
			Age:       format.TimeAgo(format.Timestamp(int64(a.Timestamp)), now),
		}
	}
}
