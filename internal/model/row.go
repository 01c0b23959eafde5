package model

import "sort"

// MessageRow is an immutable snapshot of a stored message with its derived
// relationships resolved at read time.
type MessageRow struct {
	PK int64
	Message

	// Corrections lists every revision of the message, ordered by
	// timestamp. Each correction carries its own retraction and moderation.
	Corrections []*MessageRow
	Reactions   []Reaction
	Retraction  *Retraction
	Moderation  *Moderation
	Error       *MessageError
	Receipt     *Receipt
	Markers     []DisplayedMarker
}

// revoked reports whether this row itself was retracted or moderated.
func (r *MessageRow) revoked() bool {
	return r.Retraction != nil || r.Moderation != nil
}

// LatestRevision returns the chronologically last revision among the root
// and its corrections that is neither retracted nor moderated. It returns
// nil when every revision was revoked.
func (r *MessageRow) LatestRevision() *MessageRow {
	candidates := make([]*MessageRow, 0, len(r.Corrections)+1)
	candidates = append(candidates, r)
	candidates = append(candidates, r.Corrections...)
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Timestamp.Equal(candidates[j].Timestamp) {
			return candidates[i].PK < candidates[j].PK
		}
		return candidates[i].Timestamp.Before(candidates[j].Timestamp)
	})

	for i := len(candidates) - 1; i >= 0; i-- {
		if !candidates[i].revoked() {
			return candidates[i]
		}
	}
	return nil
}

// IsRetracted reports whether no displayable revision remains.
func (r *MessageRow) IsRetracted() bool {
	return r.LatestRevision() == nil
}

// DisplayText returns the text of the latest revision, or "" when the
// message was retracted.
func (r *MessageRow) DisplayText() string {
	latest := r.LatestRevision()
	if latest == nil {
		return ""
	}
	return latest.Text
}
