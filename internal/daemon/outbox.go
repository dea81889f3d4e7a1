package daemon

import (
	"sync"

	"github.com/msageha/termcmd/internal/model"
)

// Outbox keeps completed envelopes per sender until they are collected.
// Each sender holds at most size envelopes; the oldest is dropped when a new
// one arrives at capacity.
type Outbox struct {
	mu    sync.Mutex
	size  int
	boxes map[string][]*model.Envelope
}

func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = 100
	}
	return &Outbox{
		size:  size,
		boxes: make(map[string][]*model.Envelope),
	}
}

// Put stores env under its sender id and reports whether an older envelope
// was dropped to make room.
func (o *Outbox) Put(env *model.Envelope) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	box := append(o.boxes[env.SenderID], env)
	dropped := false
	if len(box) > o.size {
		box[0] = nil
		box = box[1:]
		dropped = true
	}
	o.boxes[env.SenderID] = box
	return dropped
}

// Take removes up to max envelopes for senderID in arrival order (all of them
// when max <= 0) and returns them with the number left behind.
func (o *Outbox) Take(senderID string, max int) ([]*model.Envelope, int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	box := o.boxes[senderID]
	n := len(box)
	if max > 0 && max < n {
		n = max
	}
	out := make([]*model.Envelope, n)
	copy(out, box)

	rest := box[n:]
	if len(rest) == 0 {
		delete(o.boxes, senderID)
	} else {
		o.boxes[senderID] = append([]*model.Envelope(nil), rest...)
	}
	return out, len(rest)
}

// Len returns the number of envelopes waiting for senderID.
func (o *Outbox) Len(senderID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.boxes[senderID])
}
