package database

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// PairKey returns the unordered key identifying the direct room of a and b.
func PairKey(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

// SortedMembers returns a sorted copy of members.
func SortedMembers(members []int) []int {
	out := slices.Clone(members)
	slices.Sort(out)
	return out
}
