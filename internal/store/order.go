package store

import (
	"sort"
	"strconv"

	"qms/clinic-queue-service/internal/models"
)

// PeriodOrder turns an MMYY period key into a chronologically sortable
// YYMM number. Malformed keys sort first.
func PeriodOrder(period string) int {
	if len(period) != 4 {
		return 0
	}
	month, err := strconv.Atoi(period[:2])
	if err != nil {
		return 0
	}
	year, err := strconv.Atoi(period[2:])
	if err != nil {
		return 0
	}
	return year*100 + month
}

// SortTickets orders tickets for serving: issue period, then sequence, then
// issue time.
func SortTickets(tickets []models.Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		a, b := tickets[i], tickets[j]
		if pa, pb := PeriodOrder(a.Period), PeriodOrder(b.Period); pa != pb {
			return pa < pb
		}
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		return a.IssuedAt.Before(b.IssuedAt)
	})
}
