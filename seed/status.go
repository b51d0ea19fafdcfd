package seed

import (
	"fmt"

	"github.com/rorycl/crmkit/config"
)

// Status is the lifecycle label given to a synthetic client.
type Status string

// The closed set of client statuses.
const (
	Active   Status = "active"
	Deceased Status = "deceased"
	Archived Status = "archived"
	Inactive Status = "inactive"
)

// Statuses lists every status, in the order used for the initial blocks.
var Statuses = []Status{Active, Deceased, Archived, Inactive}

// ErrCountNotDivisible reports a count which cannot be split evenly across Statuses.
var ErrCountNotDivisible = config.ErrCountNotDivisible

// Valid reports whether s is one of Statuses.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// ParseStatus returns the Status named s.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// Distribute returns count statuses, count/4 of each, built as consecutive blocks and
// then reordered by shuffle (for example (*rand.Rand).Shuffle). A nil shuffle leaves
// the blocks in order. Counts which are not a positive multiple of 4 are rejected.
func Distribute(count int, shuffle func(n int, swap func(i, j int))) ([]Status, error) {
	if err := config.ValidateCount(count); err != nil {
		return nil, err
	}
	per := count / len(Statuses)
	statuses := make([]Status, 0, count)
	for _, s := range Statuses {
		for range per {
			statuses = append(statuses, s)
		}
	}
	if shuffle != nil {
		shuffle(len(statuses), func(i, j int) {
			statuses[i], statuses[j] = statuses[j], statuses[i]
		})
	}
	return statuses, nil
}

// Tally counts the occurrences of each status.
func Tally(statuses []Status) map[Status]int {
	t := make(map[Status]int, len(Statuses))
	for _, s := range statuses {
		t[s]++
	}
	return t
}
