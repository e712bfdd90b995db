package model

// AttachmentDescriptor identifies one remote attachment discovered while
// iterating fetched issues. It is never persisted.
type AttachmentDescriptor struct {
	TicketKey string
	Filename  string
	Size      int64
	// ContentURL is the remote locator the attachment bytes are fetched from.
	ContentURL string
}

// PlanPart is a byte range of a single attachment assigned to a segment.
// For attachments that fit in one segment, PartIndex and TotalParts are 1
// and the range covers the whole file.
type PlanPart struct {
	TicketKey  string
	Filename   string
	ContentURL string
	PartIndex  int
	TotalParts int
	StartByte  int64
	EndByte    int64 // exclusive
}

// Len returns the number of bytes covered by the part.
func (p PlanPart) Len() int64 { return p.EndByte - p.StartByte }

// Split reports whether the part is one slice of an attachment that did
// not fit into a single segment.
func (p PlanPart) Split() bool { return p.TotalParts > 1 }

// SegmentPlan is the planner's description of one archive to build.
// No I/O has happened when a plan is produced.
type SegmentPlan struct {
	Number    int
	Total     int
	TotalSize int64
	Parts     []PlanPart
}
