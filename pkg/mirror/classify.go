package mirror

import (
	"fmt"

	"github.com/paulschiretz/pgl-mirror/pkg/fsmeta"
	"github.com/paulschiretz/pgl-mirror/pkg/mirrorpath"
	"github.com/paulschiretz/pgl-mirror/pkg/notify"
)

// Classify maps a change event onto the mirror action it calls for. It is
// state-free: the decision uses only the event and the current on-disk state
// of the source entry, probed read-only. A returned error means the event
// translates to no action at all (path outside the watch root, source entry
// no longer inspectable); the caller reports it and moves on.
func Classify(roots Roots, ev notify.Event) (Action, error) {
	switch ev.Kind {
	case notify.KindRemove:
		dest, err := mirrorpath.Remap(roots.Watch, roots.Output, ev.Path())
		if err != nil {
			return Action{}, err
		}
		return Action{Op: OpRemoveEntry, Source: ev.Path(), Dest: dest}, nil

	case notify.KindRenameHalf:
		// The entry left its old name and the new name was not observed;
		// the mirrored old endpoint is removed and the independent create
		// event for the new name restores the entry.
		dest, err := mirrorpath.Remap(roots.Watch, roots.Output, ev.Path())
		if err != nil {
			return Action{}, err
		}
		return Action{Op: OpRemoveEntry, Source: ev.Path(), Dest: dest, Reason: "rename-half"}, nil

	case notify.KindRename:
		// Both endpoints must remap; a one-sided failure aborts the rename
		// entirely rather than applying half of it.
		destOld, err := mirrorpath.Remap(roots.Watch, roots.Output, ev.OldPath())
		if err != nil {
			return Action{}, err
		}
		destNew, err := mirrorpath.Remap(roots.Watch, roots.Output, ev.NewPath())
		if err != nil {
			return Action{}, err
		}
		return Action{Op: OpRenameEntry, Source: ev.NewPath(), DestOld: destOld, Dest: destNew}, nil

	case notify.KindModifyMeta:
		dest, err := mirrorpath.Remap(roots.Watch, roots.Output, ev.Path())
		if err != nil {
			return Action{}, err
		}
		return Action{Op: OpSyncMetadata, Source: ev.Path(), Dest: dest}, nil

	case notify.KindModifyData:
		dest, err := mirrorpath.Remap(roots.Watch, roots.Output, ev.Path())
		if err != nil {
			return Action{}, err
		}
		return Action{Op: OpCopyFile, Source: ev.Path(), Dest: dest}, nil

	case notify.KindCreate:
		return classifyCreate(roots, ev.Path())

	case notify.KindAccess:
		return Action{Op: OpIgnore, Source: ev.Path(), Reason: "access"}, nil

	default:
		return Action{Op: OpUnsupported, Source: ev.Path(), Reason: fmt.Sprintf("event kind %s", ev.Kind)}, nil
	}
}

// classifyCreate probes the created entry to decide between the four create
// shapes. The event itself carries no payload, so the entry's current
// on-disk type is the only evidence available.
func classifyCreate(roots Roots, path string) (Action, error) {
	dest, err := mirrorpath.Remap(roots.Watch, roots.Output, path)
	if err != nil {
		return Action{}, err
	}

	kind, _, err := fsmeta.Probe(path)
	if err != nil {
		return Action{}, err
	}

	switch kind {
	case fsmeta.EntrySymlink:
		return Action{Op: OpCreateSymlink, Source: path, Dest: dest}, nil
	case fsmeta.EntryDirectory:
		return Action{Op: OpCreateDir, Source: path, Dest: dest}, nil
	case fsmeta.EntryHardlink:
		return Action{Op: OpUnsupported, Source: path, Reason: "hardlink"}, nil
	case fsmeta.EntryRegular:
		return Action{Op: OpCopyFile, Source: path, Dest: dest}, nil
	default:
		return Action{Op: OpUnsupported, Source: path, Reason: fmt.Sprintf("entry kind %s", kind)}, nil
	}
}
