package models

import "time"

// ConnectionStatusIntroduced is the status every created connection carries.
const ConnectionStatusIntroduced = "INTRODUCED"

// StudentConnection is a directed peer edge. Connections are written in
// mirrored pairs so "connections of A" is a one-sided query.
type StudentConnection struct {
	ID                 string    `db:"id" json:"id"`
	StudentID          string    `db:"student_id" json:"student_id"`
	ConnectedStudentID string    `db:"connected_student_id" json:"connected_student_id"`
	Reason             string    `db:"reason" json:"reason"`
	Status             string    `db:"status" json:"status"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// ConnectionSuggestion scores a candidate peer for introduction.
type ConnectionSuggestion struct {
	Student Student `json:"student"`
	Score   int     `json:"score"`
	Reason  string  `json:"reason"`
}
