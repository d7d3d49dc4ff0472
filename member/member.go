// Package member resolves caller phone numbers to profile summaries
// used to ground the automated agent's answers. Backed by a static
// in-memory directory; a real deployment swaps in a records service.
package member

import "fmt"

// Record is one member's profile.
type Record struct {
	Name      string
	LastVisit string
	NextVisit string
}

// Directory looks up members by normalized phone number (XXX-XXX-XXXX).
type Directory struct {
	records map[string]Record
}

// NewDirectory seeds the directory with the given records.
func NewDirectory(records map[string]Record) *Directory {
	if records == nil {
		records = map[string]Record{}
	}
	return &Directory{records: records}
}

// Info returns a one-line profile summary for the agent prompt, or an
// empty string when the caller is unknown.
func (d *Directory) Info(phoneNumber string) string {
	rec, ok := d.records[phoneNumber]
	if !ok {
		return ""
	}
	return fmt.Sprintf("Member name: %s. Last visit: %s. Next scheduled visit: %s.",
		rec.Name, rec.LastVisit, rec.NextVisit)
}
