package queue

import "fmt"

// Counts tallies items per status.
type Counts struct {
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"`
}

func (c Counts) Total() int {
	return c.Pending + c.InProgress + c.Completed + c.Failed + c.Skipped
}

func (c Counts) String() string {
	return fmt.Sprintf("%d pending | %d in progress | %d completed | %d failed | %d skipped",
		c.Pending, c.InProgress, c.Completed, c.Failed, c.Skipped)
}

func countItems(items []Item) Counts {
	var c Counts
	for _, it := range items {
		switch it.Status {
		case StatusPending:
			c.Pending++
		case StatusInProgress:
			c.InProgress++
		case StatusCompleted:
			c.Completed++
		case StatusFailed:
			c.Failed++
		case StatusSkipped:
			c.Skipped++
		}
	}
	return c
}
