// Package planner partitions a job's attachments into bounded-size
// segment plans before any download happens.
package planner

import (
	"io"
	"log"

	"github.com/yokitheyo/jira-export/internal/model"
)

// Plan splits attachments, in input order, into segment plans whose total
// size never exceeds limit. An attachment larger than the limit is emitted
// as a run of independent single-part plans, one byte range each, so no
// archive grows past the limit regardless of input. Attachments with a
// zero or unknown size are skipped with a warning.
//
// Plan performs no I/O and never fails for well-typed input.
func Plan(attachments []model.AttachmentDescriptor, limit int64, logger *log.Logger) []*model.SegmentPlan {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}

	var plans []*model.SegmentPlan
	current := &model.SegmentPlan{}

	flush := func() {
		if len(current.Parts) > 0 {
			plans = append(plans, current)
		}
		current = &model.SegmentPlan{}
	}

	for _, att := range attachments {
		if att.Size <= 0 {
			logger.Printf("planner: skipping %s/%s: size unknown or zero", att.TicketKey, att.Filename)
			continue
		}

		if att.Size > limit {
			// Oversized files become their own run of single-slice plans.
			// The accumulating plan is left open and keeps filling with
			// later attachments; it is emitted whenever it next flushes.
			plans = append(plans, splitOversized(att, limit)...)
			continue
		}

		if current.TotalSize+att.Size > limit {
			flush()
		}
		current.Parts = append(current.Parts, model.PlanPart{
			TicketKey:  att.TicketKey,
			Filename:   att.Filename,
			ContentURL: att.ContentURL,
			PartIndex:  1,
			TotalParts: 1,
			StartByte:  0,
			EndByte:    att.Size,
		})
		current.TotalSize += att.Size
	}
	flush()

	for i, p := range plans {
		p.Number = i + 1
		p.Total = len(plans)
	}
	return plans
}

// splitOversized emits one single-part plan per limit-sized slice of att.
// Slices are contiguous, in increasing byte order, and cover [0, size).
func splitOversized(att model.AttachmentDescriptor, limit int64) []*model.SegmentPlan {
	parts := int((att.Size + limit - 1) / limit)
	plans := make([]*model.SegmentPlan, 0, parts)

	var start int64
	for i := 0; i < parts; i++ {
		length := limit
		if remaining := att.Size - start; remaining < length {
			length = remaining
		}
		plans = append(plans, &model.SegmentPlan{
			TotalSize: length,
			Parts: []model.PlanPart{{
				TicketKey:  att.TicketKey,
				Filename:   att.Filename,
				ContentURL: att.ContentURL,
				PartIndex:  i + 1,
				TotalParts: parts,
				StartByte:  start,
				EndByte:    start + length,
			}},
		})
		start += length
	}
	return plans
}
