package core

import "slices"

// DetectChanges compares two marker maps. Ids only in current are created,
// ids in both with differing markers are updated, ids only in previous are
// deleted. Neither input is modified.
func DetectChanges(previous VersionMarkerMap, current VersionMarkerMap) ChangeSet {
	changes := ChangeSet{
		Created: []string{},
		Updated: []string{},
		Deleted: []string{},
	}
	for id, marker := range current {
		prior, ok := previous[id]
		switch {
		case !ok:
			changes.Created = append(changes.Created, id)
		case prior != marker:
			changes.Updated = append(changes.Updated, id)
		}
	}
	for id := range previous {
		if _, ok := current[id]; !ok {
			changes.Deleted = append(changes.Deleted, id)
		}
	}
	slices.Sort(changes.Created)
	slices.Sort(changes.Updated)
	slices.Sort(changes.Deleted)
	return changes
}
