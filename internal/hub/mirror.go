package hub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/bughouse-server/internal/archive"
	"github.com/park285/bughouse-server/internal/bughouse"
	"github.com/park285/bughouse-server/internal/obslog"
	"github.com/park285/bughouse-server/internal/sessionindex"
	"github.com/park285/bughouse-server/pkg/bughousedto"
)

const mirrorQueue = 256

type mirrorJob struct {
	kind    string
	session string
	run     func(ctx context.Context) error
}

// mirror runs index, pub/sub and archive writes off the room goroutines so
// a slow backend never stalls a session.
type mirror struct {
	index   sessionindex.Index
	archive archive.Archive
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	jobs   chan mirrorJob
	wg     sync.WaitGroup
}

func newMirror(index sessionindex.Index, arch archive.Archive, timeout time.Duration) *mirror {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	m := &mirror{index: index, archive: arch, timeout: timeout, jobs: make(chan mirrorJob, mirrorQueue)}
	m.wg.Add(1)
	go m.loop()
	return m
}

func (m *mirror) loop() {
	defer m.wg.Done()
	for job := range m.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		if err := job.run(ctx); err != nil {
			obslog.L().Warn("mirror_job_failed",
				zap.String("kind", job.kind),
				zap.String("session", job.session),
				zap.Error(err),
			)
		}
		cancel()
	}
}

func (m *mirror) enqueue(job mirrorJob) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	select {
	case m.jobs <- job:
	default:
		obslog.L().Warn("mirror_queue_full", zap.String("kind", job.kind), zap.String("session", job.session))
	}
}

func (m *mirror) touch(session string, at time.Time) {
	if m.index == nil {
		return
	}
	m.enqueue(mirrorJob{kind: "touch", session: session, run: func(ctx context.Context) error {
		return m.index.Touch(ctx, session, at)
	}})
}

func (m *mirror) publish(session, eventType string, payload any) {
	if m.index == nil {
		return
	}
	ev := bughousedto.Event{Session: session, Type: eventType, At: time.Now(), Payload: payload}
	m.enqueue(mirrorJob{kind: "publish", session: session, run: func(ctx context.Context) error {
		return m.index.Publish(ctx, ev)
	}})
}

func (m *mirror) archiveBoard(sum bughouse.BoardSummary) {
	if m.archive == nil {
		return
	}
	rec := archive.FromSummary(sum)
	m.enqueue(mirrorJob{kind: "archive", session: sum.Session, run: func(ctx context.Context) error {
		if err := m.archive.Save(ctx, rec); err != nil {
			return err
		}
		obslog.L().Info("board_archived",
			zap.String("session", rec.Session),
			zap.Int("board", rec.Board),
			zap.String("record_id", rec.ID),
			zap.String("result", rec.Result),
		)
		return nil
	}})
}

// stop drains queued jobs, giving up when ctx ends.
func (m *mirror) stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.jobs)
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
