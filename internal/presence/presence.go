// Package presence tracks which users are typing in a room.
//
// A Tracker is owned by a single room goroutine and is not safe for
// concurrent use.
package presence

import (
	"slices"
	"time"
)

type entry struct {
	holder    any
	updatedAt time.Time
}

type Tracker struct {
	idleTimeout time.Duration
	typing      map[int]entry
}

func NewTracker(idleTimeout time.Duration) *Tracker {
	return &Tracker{
		idleTimeout: idleTimeout,
		typing:      make(map[int]entry),
	}
}

// Set records the latest typing state of userId. holder identifies the
// connection that reported it so the entry can be released when that
// connection goes away.
func (t *Tracker) Set(userId int, holder any, typing bool, now time.Time) {
	if typing {
		t.typing[userId] = entry{holder: holder, updatedAt: now}
		return
	}
	delete(t.typing, userId)
}

// Release drops every entry reported by holder and returns the affected
// users in ascending order.
func (t *Tracker) Release(holder any) []int {
	var released []int
	for userId, e := range t.typing {
		if e.holder == holder {
			delete(t.typing, userId)
			released = append(released, userId)
		}
	}
	slices.Sort(released)
	return released
}

// Expired is an entry dropped by Expire.
type Expired struct {
	UserId int
	Holder any
}

// Expire drops entries not refreshed within the idle timeout and returns
// them ordered by user.
func (t *Tracker) Expire(now time.Time) []Expired {
	var expired []Expired
	for userId, e := range t.typing {
		if now.Sub(e.updatedAt) >= t.idleTimeout {
			delete(t.typing, userId)
			expired = append(expired, Expired{UserId: userId, Holder: e.holder})
		}
	}
	slices.SortFunc(expired, func(a, b Expired) int { return a.UserId - b.UserId })
	return expired
}

// Typing returns the users currently typing in ascending order.
func (t *Tracker) Typing() []int {
	users := make([]int, 0, len(t.typing))
	for userId := range t.typing {
		users = append(users, userId)
	}
	slices.Sort(users)
	return users
}
