package scheduler

// SnapshotState reports the current schedules, queue depth, and recent run
// history for diagnostics.
func (s *Service) SnapshotState() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Timezone: s.loc.String(),
		Workers:  s.cfg.Workers,
	}
	if s.queue != nil {
		snap.QueueLen = len(s.queue)
	}
	for _, d := range s.defs {
		info := ScheduleInfo{
			ID:      d.id,
			Name:    d.name,
			Spec:    d.spec,
			Timeout: d.timeout,
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			info.Next = e.Next
			info.Prev = e.Prev
		}
		snap.Schedules = append(snap.Schedules, info)
	}
	s.mu.Unlock()

	s.hmu.Lock()
	snap.History = append([]HistoryItem(nil), s.history...)
	s.hmu.Unlock()
	return snap
}
