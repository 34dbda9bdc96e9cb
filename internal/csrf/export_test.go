package csrf

import "time"

func SetClock(s *Service, now func() time.Time) { s.now = now }

func SetReplayClock(m *MemoryReplayStore, now func() time.Time) { m.now = now }
