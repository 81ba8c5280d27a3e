package models

import "time"

// UserRef is the embedded author/poster reference the backend returns on
// messages and comments.
type UserRef struct {
	ID      string `json:"_id"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"profilePicture,omitempty"`
}

// Message is one post in a circle feed.
//
// Comments holds the most recent comments in chronological ascending order;
// the server may truncate it, so TotalComments >= len(Comments) always holds.
type Message struct {
	ID              string    `json:"_id"`
	Circle          string    `json:"circle"`
	Poster          UserRef   `json:"poster"`
	Body            string    `json:"message"`
	CreatedAt       time.Time `json:"createdAt"`
	TotalComments   int       `json:"totalComments"`
	Comments        []Comment `json:"comments,omitempty"`
	EventID         string    `json:"eventId,omitempty"`
	ScheduleRef     string    `json:"referenceResourceId,omitempty"`
	RegisteredUsers []string  `json:"registeredUsers,omitempty"`
}

// Comment is a reply owned by exactly one Message. The parent message id only
// exists on the wire (see CommentEvent); it is stripped before storage.
type Comment struct {
	ID        string    `json:"_id"`
	Author    UserRef   `json:"user"`
	Body      string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
