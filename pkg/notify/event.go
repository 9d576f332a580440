// Package notify defines the change-notification boundary of the mirror: a
// typed event model carrying one or two absolute paths, and a recursive
// filesystem source producing a live sequence of those events.
package notify

// Kind classifies a raw filesystem change notification.
type Kind int

const (
	// KindUnrecognized marks an event the source could not classify at all.
	KindUnrecognized Kind = iota
	// KindCreate reports a newly created entry. The entry's on-disk type is
	// deliberately not part of the event; it is probed at classification
	// time.
	KindCreate
	// KindModifyData reports a content change of an entry.
	KindModifyData
	// KindModifyMeta reports a metadata-only change (permissions,
	// timestamps, ownership).
	KindModifyMeta
	// KindRename reports a completed rename. It is the only kind carrying
	// two paths: the old endpoint, then the new one.
	KindRename
	// KindRenameHalf reports an entry that left its old name without the
	// source observing where it went. The matching create, if any, arrives
	// as an independent event.
	KindRenameHalf
	// KindRemove reports a deleted entry.
	KindRemove
	// KindAccess reports a read access. The mirror ignores these.
	KindAccess
	// KindOther covers platform event types with no mirroring meaning.
	KindOther
)

// String returns a short name for logging.
func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindModifyData:
		return "modify-data"
	case KindModifyMeta:
		return "modify-meta"
	case KindRename:
		return "rename"
	case KindRenameHalf:
		return "rename-half"
	case KindRemove:
		return "remove"
	case KindAccess:
		return "access"
	case KindOther:
		return "other"
	default:
		return "unrecognized"
	}
}

// Event is a single change notification. Paths holds exactly one absolute
// path, except for KindRename which holds the old and new endpoint in that
// order. Events are transient values, consumed exactly once in delivery
// order.
type Event struct {
	Kind  Kind
	Paths []string
}

// Path returns the event's primary path.
func (e Event) Path() string {
	if len(e.Paths) == 0 {
		return ""
	}
	return e.Paths[0]
}

// OldPath returns the old endpoint of a rename.
func (e Event) OldPath() string {
	return e.Path()
}

// NewPath returns the new endpoint of a rename, or "" when the event does
// not carry one.
func (e Event) NewPath() string {
	if len(e.Paths) < 2 {
		return ""
	}
	return e.Paths[1]
}
