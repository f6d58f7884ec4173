package core

import "github.com/shopspring/decimal"

// Summary aggregates a list of occurrences for the payment list surface.
// Deleted occurrences are counted but never summed.
type Summary struct {
	Scheduled decimal.Decimal
	Completed decimal.Decimal
	Count     map[Status]int
}

func Summarize(occs []Occurrence) Summary {
	s := Summary{
		Scheduled: decimal.Zero,
		Completed: decimal.Zero,
		Count:     make(map[Status]int, 3),
	}
	for _, o := range occs {
		s.Count[o.Status]++
		switch o.Status {
		case Scheduled:
			s.Scheduled = s.Scheduled.Add(o.Amount)
		case Completed:
			s.Completed = s.Completed.Add(o.Amount)
		}
	}
	return s
}
