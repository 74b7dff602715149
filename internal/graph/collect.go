package graph

// Collect frees records that no active or future snapshot can observe: those
// retired at or before the oldest active snapshot's version. It returns the
// number of entity and relationship records dropped.
func (s *Store) Collect() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	horizon := s.version
	s.snapMu.Lock()
	for v := range s.snapshots {
		if v < horizon {
			horizon = v
		}
	}
	s.snapMu.Unlock()

	dead := func(retired uint64) bool {
		return retired != 0 && retired <= horizon
	}

	dropped := 0
	for h, r := range s.entities {
		if dead(r.retired) {
			delete(s.entities, h)
			dropped++
		}
	}
	for h, r := range s.rels {
		if dead(r.retired) {
			delete(s.rels, h)
			dropped++
		}
	}
	if dropped == 0 {
		return 0
	}

	liveEntity := func(h handle) bool { _, ok := s.entities[h]; return ok }
	liveRel := func(h handle) bool { _, ok := s.rels[h]; return ok }
	pruneIndex(s.byID, liveEntity)
	pruneIndex(s.byName, liveEntity)
	pruneIndex(s.byQName, liveEntity)
	pruneIndex(s.byKind, liveEntity)
	pruneIndex(s.relByID, liveRel)
	pruneIndex(s.outgoing, liveRel)
	pruneIndex(s.incoming, liveRel)
	pruneIndex(s.byTarget, liveRel)

	for key, hist := range s.fileHistory {
		kept := hist[:0]
		for _, f := range hist {
			if !dead(f.retired) {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			delete(s.fileHistory, key)
			continue
		}
		s.fileHistory[key] = kept
	}
	return dropped
}

func pruneIndex[K comparable](idx map[K][]handle, keep func(handle) bool) {
	for k, hs := range idx {
		kept := hs[:0]
		for _, h := range hs {
			if keep(h) {
				kept = append(kept, h)
			}
		}
		if len(kept) == 0 {
			delete(idx, k)
			continue
		}
		idx[k] = kept
	}
}
