package watch

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) StateChanged(State, State)      {}
func (NopObserver) SyncStarted(SyncKind, int, int) {}
func (NopObserver) SyncFinished(*CycleReport)      {}
func (NopObserver) PollProgress(*PollProgress)     {}

// MultiObserver fans notifications out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) StateChanged(from, to State) {
	for _, o := range m {
		o.StateChanged(from, to)
	}
}

func (m MultiObserver) SyncStarted(kind SyncKind, updated, deleted int) {
	for _, o := range m {
		o.SyncStarted(kind, updated, deleted)
	}
}

func (m MultiObserver) SyncFinished(report *CycleReport) {
	for _, o := range m {
		o.SyncFinished(report)
	}
}

func (m MultiObserver) PollProgress(p *PollProgress) {
	for _, o := range m {
		o.PollProgress(p)
	}
}
