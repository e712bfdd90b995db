package model

// CommentRecord is one exported issue comment.
type CommentRecord struct {
	Author  string `json:"author"`
	Created string `json:"created"`
	Body    string `json:"body"`
}

// TicketRecord is the exported form of one issue. It is written to the
// job's ticket export file and is independent of attachment segmentation.
type TicketRecord struct {
	Key         string          `json:"key"`
	Summary     string          `json:"summary"`
	Description string          `json:"description"`
	Created     string          `json:"created"`
	Updated     string          `json:"updated"`
	Status      string          `json:"status"`
	Priority    string          `json:"priority"`
	Assignee    string          `json:"assignee"`
	Reporter    string          `json:"reporter"`
	Comments    []CommentRecord `json:"comments"`
}
