package models

import "time"

type CircleStatus string

const (
	CircleStatusActive    CircleStatus = "active"
	CircleStatusBlocked   CircleStatus = "blocked"
	CircleStatusSuspended CircleStatus = "suspended"
)

// Circle is a club sub-community owning one message feed.
type Circle struct {
	ID      string       `json:"_id"`
	Name    string       `json:"name"`
	Status  CircleStatus `json:"status"`
	Members []Member     `json:"members,omitempty"`
}

type MemberStatus string

const (
	MemberStatusApproved MemberStatus = "approved"
	MemberStatusPending  MemberStatus = "pending"
	MemberStatusBlocked  MemberStatus = "blocked"
)

type Member struct {
	ID       string       `json:"_id"`
	User     UserRef      `json:"user"`
	Status   MemberStatus `json:"status"`
	JoinedAt time.Time    `json:"joinedAt"`
}

// Event is a scheduled circle activity users can register for.
type Event struct {
	ID              string    `json:"_id"`
	Circle          string    `json:"circle"`
	Title           string    `json:"title"`
	Capacity        int       `json:"capacity"`
	RegisteredUsers []string  `json:"registeredUsers,omitempty"`
	Deadline        time.Time `json:"registrationDeadline"`
	StartsAt        time.Time `json:"startsAt"`
	Venue           string    `json:"venue,omitempty"`
}

// Schedule is a bookable resource slot referenced from messages.
type Schedule struct {
	ID         string    `json:"_id"`
	Venue      string    `json:"venue"`
	Date       time.Time `json:"date"`
	ResourceID string    `json:"resourceId,omitempty"`
}
