package memory

import "fmt"

// FieldChange records one changed field between two revisions.
type FieldChange struct {
	Field  string `json:"field"`
	Before any    `json:"before"`
	After  any    `json:"after"`
}

// RevisionDiff is the field-level difference between two observations on the
// same lineage.
type RevisionDiff struct {
	FromID  string        `json:"from_id"`
	ToID    string        `json:"to_id"`
	Changes []FieldChange `json:"changes"`
	Summary string        `json:"summary"`
}

// Diff computes the field-level difference between two observations over the
// fixed comparable field set. Array-valued fields compare as sets.
func Diff(from, to *Observation) *RevisionDiff {
	d := &RevisionDiff{FromID: from.ID, ToID: to.ID}

	if from.Title != to.Title {
		d.add("title", from.Title, to.Title)
	}
	if from.Subtitle != to.Subtitle {
		d.add("subtitle", from.Subtitle, to.Subtitle)
	}
	if from.Narrative != to.Narrative {
		d.add("narrative", from.Narrative, to.Narrative)
	}
	if from.Type != to.Type {
		d.add("type", string(from.Type), string(to.Type))
	}
	if !StringSetEqual(from.Facts, to.Facts) {
		d.add("facts", from.Facts, to.Facts)
	}
	if !StringSetEqual(from.Concepts, to.Concepts) {
		d.add("concepts", from.Concepts, to.Concepts)
	}
	if !StringSetEqual(from.FilesRead, to.FilesRead) {
		d.add("filesRead", from.FilesRead, to.FilesRead)
	}
	if !StringSetEqual(from.FilesModified, to.FilesModified) {
		d.add("filesModified", from.FilesModified, to.FilesModified)
	}
	if from.Importance != to.Importance {
		d.add("importance", from.Importance, to.Importance)
	}

	switch len(d.Changes) {
	case 0:
		d.Summary = "no changes"
	case 1:
		d.Summary = fmt.Sprintf("changed %s", d.Changes[0].Field)
	default:
		fields := make([]string, len(d.Changes))
		for i, c := range d.Changes {
			fields[i] = c.Field
		}
		d.Summary = fmt.Sprintf("changed %d fields: %v", len(fields), fields)
	}

	return d
}

func (d *RevisionDiff) add(field string, before, after any) {
	d.Changes = append(d.Changes, FieldChange{Field: field, Before: before, After: after})
}
