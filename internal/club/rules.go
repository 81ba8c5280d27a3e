// Package club holds the eligibility and ordering rules for circles, their
// members, and event registration. Pure functions over plain data; the
// backend stays authoritative, these gate what a client is offered.
package club

import (
	"sort"
	"time"

	"circlefeed/internal/models"
)

// IsEligibleMember reports whether a membership grants feed access.
func IsEligibleMember(m models.Member) bool {
	return m.Status == models.MemberStatusApproved
}

// CanPost reports whether a user may post into a circle's feed: the circle
// must be active and the user an approved member.
func CanPost(c models.Circle, userID string) bool {
	if c.Status != models.CircleStatusActive {
		return false
	}
	for _, m := range c.Members {
		if m.User.ID == userID {
			return IsEligibleMember(m)
		}
	}
	return false
}

// IsRegistered reports whether a user already registered for an event.
func IsRegistered(e models.Event, userID string) bool {
	for _, id := range e.RegisteredUsers {
		if id == userID {
			return true
		}
	}
	return false
}

// CanRegister reports whether a user may still register for an event: not
// already registered, capacity left, and the deadline not passed. A zero
// capacity means unlimited; a zero deadline means open until start.
func CanRegister(e models.Event, userID string, now time.Time) bool {
	if IsRegistered(e, userID) {
		return false
	}
	if e.Capacity > 0 && len(e.RegisteredUsers) >= e.Capacity {
		return false
	}
	deadline := e.Deadline
	if deadline.IsZero() {
		deadline = e.StartsAt
	}
	if !deadline.IsZero() && !now.Before(deadline) {
		return false
	}
	return true
}

// memberStatusRank orders approved members first, then pending, then blocked.
func memberStatusRank(s models.MemberStatus) int {
	switch s {
	case models.MemberStatusApproved:
		return 0
	case models.MemberStatusPending:
		return 1
	default:
		return 2
	}
}

// SortMembers orders members by status (approved first) and by name within a
// status.
func SortMembers(members []models.Member) {
	sort.SliceStable(members, func(i, j int) bool {
		ri, rj := memberStatusRank(members[i].Status), memberStatusRank(members[j].Status)
		if ri != rj {
			return ri < rj
		}
		return members[i].User.Name < members[j].User.Name
	})
}

// SortSchedules orders schedules by venue, then by date within a venue.
func SortSchedules(schedules []models.Schedule) {
	sort.SliceStable(schedules, func(i, j int) bool {
		if schedules[i].Venue != schedules[j].Venue {
			return schedules[i].Venue < schedules[j].Venue
		}
		return schedules[i].Date.Before(schedules[j].Date)
	})
}
