package app

import (
	"sync"

	"challenge-service/internal/domain"
)

// ProgressUpdate is one hearts/progress snapshot pushed to watchers.
type ProgressUpdate struct {
	SessionID       string               `json:"sessionId"`
	CurrentQuestion int                  `json:"currentQuestion"`
	TotalQuestions  int                  `json:"totalQuestions"`
	HeartsRemaining int                  `json:"heartsRemaining"`
	CorrectAnswers  int                  `json:"correctAnswers"`
	Status          domain.SessionStatus `json:"status"`
	XPEarned        int                  `json:"xpEarned,omitempty"`
}

// ProgressBroker fans answer-submission updates out to in-process watchers of
// a session. Single-instance by design; the authoritative state is always the
// store, watchers only get a low-latency mirror.
type ProgressBroker struct {
	mu   sync.Mutex
	subs map[string]map[chan ProgressUpdate]struct{}
}

func NewProgressBroker() *ProgressBroker {
	return &ProgressBroker{subs: make(map[string]map[chan ProgressUpdate]struct{})}
}

// Subscribe registers a watcher for a session. The caller must invoke the
// returned cancel function to avoid leaks.
func (b *ProgressBroker) Subscribe(sessionID string) (<-chan ProgressUpdate, func()) {
	ch := make(chan ProgressUpdate, 8)

	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan ProgressUpdate]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[sessionID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subs, sessionID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an update to every watcher. Slow watchers lose stale
// snapshots rather than blocking the answer path.
func (b *ProgressBroker) Publish(update ProgressUpdate) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[update.SessionID] {
		select {
		case ch <- update:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- update
		}
	}
}
