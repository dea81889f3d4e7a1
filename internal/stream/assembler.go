// Package stream reassembles delimited text batches from byte chunks that
// arrive per sender.
package stream

import (
	"errors"
	"sync"
	"time"

	apperrors "github.com/msageha/termcmd/internal/errors"
	"github.com/msageha/termcmd/internal/lock"
	"github.com/msageha/termcmd/internal/logging"
	"github.com/msageha/termcmd/internal/model"
	"github.com/msageha/termcmd/internal/text"
)

type backlog struct {
	buf     []byte
	matched int
	// skipping is set once the current frame overflowed the cap; bytes are
	// dropped until its delimiter arrives.
	skipping bool
	lastSeen time.Time
	evicted  bool
}

// Assembler keeps one byte backlog per sender and emits a frame each time the
// delimiter completes. Emitted frames include the delimiter.
type Assembler struct {
	text       *text.Handler
	delimiter  string
	delim      []byte
	failure    []int
	idleExpiry time.Duration
	maxBacklog int
	logger     *logging.Logger

	locks    *lock.MutexMap
	backlogs sync.Map // sender id -> *backlog

	now func() time.Time
}

// New creates an assembler splitting on delimiter, encoded with h.
// A zero idle expiry disables Sweep; a zero max backlog disables the cap.
func New(cfg model.StreamConfig, delimiter string, h *text.Handler, logger *logging.Logger) (*Assembler, error) {
	if h == nil {
		h = text.Default()
	}
	if delimiter == "" {
		return nil, apperrors.New(apperrors.CodeInvalidConfiguration, "the stream delimiter is required")
	}
	delim, err := h.Encode(delimiter)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInvalidConfiguration, err, "the stream delimiter cannot be encoded. delimiter=%s", delimiter)
	}
	if len(delim) == 0 {
		return nil, apperrors.New(apperrors.CodeInvalidConfiguration, "the stream delimiter encodes to no bytes. delimiter=%s", delimiter)
	}
	return &Assembler{
		text:       h,
		delimiter:  delimiter,
		delim:      delim,
		failure:    failureTable(delim),
		idleExpiry: time.Duration(cfg.IdleExpirySec) * time.Second,
		maxBacklog: cfg.MaxBacklogBytes,
		logger:     logger,
		locks:      lock.NewMutexMap(),
		now:        time.Now,
	}, nil
}

// Delimiter returns the delimiter frames end with.
func (a *Assembler) Delimiter() string {
	return a.delimiter
}

// failureTable returns, for each prefix length i+1 of p, the length of the
// longest proper prefix of p that is also a suffix of it.
func failureTable(p []byte) []int {
	f := make([]int, len(p))
	k := 0
	for i := 1; i < len(p); i++ {
		for k > 0 && p[i] != p[k] {
			k = f[k-1]
		}
		if p[i] == p[k] {
			k++
		}
		f[i] = k
	}
	return f
}

// Feed appends data to the sender's backlog and returns every batch it
// completes, in arrival order. Calls for the same sender are serialized;
// different senders proceed concurrently.
//
// A frame that fails to decode is dropped and reported while later frames in
// the same chunk are still returned. A frame that grows past the backlog cap
// is reported once with INVALID_REQUEST and its bytes are discarded up to and
// including its delimiter, which may arrive in a later chunk; frames after it
// are assembled normally.
func (a *Assembler) Feed(senderID string, data []byte) ([]string, error) {
	if senderID == "" {
		return nil, apperrors.New(apperrors.CodeInvalidRequest, "the sender id is required for streaming")
	}

	for {
		v, _ := a.backlogs.LoadOrStore(senderID, &backlog{})
		b := v.(*backlog)

		a.locks.Lock(senderID)
		if b.evicted {
			// Lost a race with Sweep; pick up the replacement entry.
			a.locks.Unlock(senderID)
			continue
		}
		frames, err := a.feedLocked(senderID, b, data)
		a.locks.Unlock(senderID)
		return frames, err
	}
}

func (a *Assembler) feedLocked(senderID string, b *backlog, data []byte) ([]string, error) {
	b.lastSeen = a.now()

	var (
		frames []string
		errs   []error
	)
	for _, c := range data {
		for b.matched > 0 && c != a.delim[b.matched] {
			b.matched = a.failure[b.matched-1]
		}
		if c == a.delim[b.matched] {
			b.matched++
		}
		complete := b.matched == len(a.delim)

		if b.skipping {
			if complete {
				b.skipping = false
				b.matched = 0
			}
			continue
		}

		b.buf = append(b.buf, c)
		if !complete {
			if a.maxBacklog > 0 && len(b.buf) > a.maxBacklog {
				a.logger.Warnf("stream backlog discarded sender=%s bytes=%d limit=%d", senderID, len(b.buf), a.maxBacklog)
				errs = append(errs, apperrors.New(apperrors.CodeInvalidRequest,
					"the stream backlog exceeds the limit. sender=%s limit=%d", senderID, a.maxBacklog))
				b.buf = nil
				b.skipping = true
			}
			continue
		}

		frame, err := a.text.Decode(b.buf)
		b.buf = b.buf[:0:0]
		b.matched = 0
		if err != nil {
			errs = append(errs, apperrors.Wrap(apperrors.CodeInvalidRequest, err, "the stream frame cannot be decoded. sender=%s", senderID))
			continue
		}
		frames = append(frames, frame)
	}
	return frames, errors.Join(errs...)
}

// Pending returns the number of buffered bytes for sender.
func (a *Assembler) Pending(senderID string) int {
	v, ok := a.backlogs.Load(senderID)
	if !ok {
		return 0
	}
	b := v.(*backlog)
	a.locks.Lock(senderID)
	defer a.locks.Unlock(senderID)
	if b.evicted {
		return 0
	}
	return len(b.buf)
}

// Senders returns the number of live backlogs.
func (a *Assembler) Senders() int {
	n := 0
	a.backlogs.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Reset drops the sender's backlog and returns the discarded byte count.
func (a *Assembler) Reset(senderID string) int {
	v, ok := a.backlogs.Load(senderID)
	if !ok {
		return 0
	}
	if n := a.evict(senderID, v.(*backlog), func(*backlog) bool { return true }); n > 0 {
		return n
	}
	return 0
}

// Sweep evicts backlogs idle since before now minus the idle expiry and
// returns how many were evicted.
func (a *Assembler) Sweep(now time.Time) int {
	if a.idleExpiry <= 0 {
		return 0
	}
	cutoff := now.Add(-a.idleExpiry)
	evicted := 0
	a.backlogs.Range(func(k, v any) bool {
		senderID := k.(string)
		dropped := a.evict(senderID, v.(*backlog), func(b *backlog) bool {
			return b.lastSeen.Before(cutoff)
		})
		if dropped >= 0 {
			evicted++
			if dropped > 0 {
				a.logger.Infof("stream backlog expired sender=%s bytes=%d", senderID, dropped)
			}
		}
		return true
	})
	return evicted
}

// evict removes b when cond holds and returns the dropped byte count, or -1
// when nothing was evicted.
func (a *Assembler) evict(senderID string, b *backlog, cond func(*backlog) bool) int {
	a.locks.Lock(senderID)
	if b.evicted || !cond(b) {
		a.locks.Unlock(senderID)
		return -1
	}
	b.evicted = true
	size := len(b.buf)
	b.buf = nil
	a.backlogs.CompareAndDelete(senderID, b)
	a.locks.Unlock(senderID)
	a.locks.Forget(senderID)
	return size
}
