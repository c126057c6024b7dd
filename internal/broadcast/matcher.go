package broadcast

// dueAt reports whether the task is scheduled for the given minute.
// Schedules are normalized at the config boundary, so this is a plain
// membership test.
func (t Task) dueAt(minute string) bool {
	for _, m := range t.Schedule {
		if m == minute {
			return true
		}
	}
	return false
}

// nextOccurrence returns the first schedule entry strictly after the given
// minute, wrapping to the first entry of the (sorted) schedule when the day
// runs out. Zero-padded HH:MM strings order lexically, so string comparison
// is time comparison.
func (t Task) nextOccurrence(after string) string {
	for _, m := range t.Schedule {
		if m > after {
			return m
		}
	}
	return t.Schedule[0]
}

// collectDue returns the tasks due for minute in configuration order, at
// most once per minute: if the mark already holds this minute the matcher
// has run and returns nothing. The mark advances even when no task matches,
// so later ticks inside the same minute stay cheap.
//
// Callers must hold s.mu.
func (s *Service) collectDue(minute string) []Task {
	if minute == s.mark {
		return nil
	}
	s.mark = minute
	var due []Task
	for _, task := range s.cfg.Tasks {
		if task.dueAt(minute) {
			due = append(due, task)
		}
	}
	return due
}
