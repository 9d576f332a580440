// Package mirror contains the event-to-action translation engine: it
// classifies change events into concrete mirror actions and executes those
// actions against the destination tree. Classification and execution are two
// separate stages; classification only performs read-only metadata probes,
// all writes happen during execution.
package mirror

// Op enumerates the concrete mirror operations an event can translate to.
type Op int

const (
	// OpIgnore is a deliberate no-op (e.g. access notifications).
	OpIgnore Op = iota
	// OpUnsupported is a no-op for entry or event kinds the mirror cannot
	// faithfully replicate; it is always reported distinctly.
	OpUnsupported
	// OpCopyFile replaces the destination file with the full content of the
	// source file.
	OpCopyFile
	// OpCreateDir creates exactly the mirrored directory, non-recursively.
	OpCreateDir
	// OpCreateSymlink recreates a symlink at the destination.
	OpCreateSymlink
	// OpRemoveEntry removes the destination entry, recursively when it is a
	// directory at removal time.
	OpRemoveEntry
	// OpRenameEntry renames the destination entry between two mirrored
	// endpoints.
	OpRenameEntry
	// OpSyncMetadata re-reads source metadata and applies it to the
	// destination property by property.
	OpSyncMetadata
)

// String returns a short name for logging.
func (o Op) String() string {
	switch o {
	case OpCopyFile:
		return "copy"
	case OpCreateDir:
		return "mkdir"
	case OpCreateSymlink:
		return "symlink"
	case OpRemoveEntry:
		return "remove"
	case OpRenameEntry:
		return "rename"
	case OpSyncMetadata:
		return "syncmeta"
	case OpUnsupported:
		return "unsupported"
	default:
		return "ignore"
	}
}

// Roots holds the two canonicalized absolute directory paths all path
// arithmetic is relative to. They are fixed for the process lifetime and
// passed explicitly rather than held as ambient state.
type Roots struct {
	Watch  string
	Output string
}

// Action is the classified, concrete operation to perform against the
// destination tree for one event. Actions are ephemeral: computed, executed
// and discarded within a single loop iteration.
type Action struct {
	Op Op

	// Source is the source-tree path content or metadata is re-read from
	// at execution time.
	Source string

	// Dest is the mirrored destination path the mutation targets.
	Dest string

	// DestOld is the previous destination endpoint of a rename.
	DestOld string

	// Reason names the ignored or unsupported case.
	Reason string
}
