package jobs

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"agora/api/internal/store"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDrainer struct {
	visits []store.GroupVisit
	err    error
	acked  [][]store.GroupVisit
}

func (f *fakeDrainer) Drain(context.Context) ([]store.GroupVisit, error) {
	return f.visits, f.err
}

func (f *fakeDrainer) Ack(_ context.Context, visits []store.GroupVisit) error {
	f.acked = append(f.acked, visits)
	return nil
}

type fakeJobStore struct {
	added    [][]store.GroupVisit
	addErr   error
	closedAt time.Time
	closed   int64
}

func (f *fakeJobStore) AddGroupVisits(_ context.Context, visits []store.GroupVisit) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.added = append(f.added, visits)
	return nil
}

func (f *fakeJobStore) CloseLapsedPolls(_ context.Context, now time.Time) (int64, error) {
	f.closedAt = now
	return f.closed, nil
}

func TestFlushVisitsWritesDrainedRows(t *testing.T) {
	drainer := &fakeDrainer{visits: []store.GroupVisit{{GroupID: "g1", Visits: 4, UniqueVisitors: 2}}}
	st := &fakeJobStore{}
	s := NewScheduler(drainer, st, zerolog.Nop())

	n, err := s.FlushVisits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, st.added, 1)
	assert.Equal(t, "g1", st.added[0][0].GroupID)
	require.Len(t, drainer.acked, 1)
	assert.Equal(t, st.added[0], drainer.acked[0])
}

func TestFlushVisitsKeepsRowsWhenStoreFails(t *testing.T) {
	drainer := &fakeDrainer{visits: []store.GroupVisit{{GroupID: "g1", Visits: 4, UniqueVisitors: 2}}}
	st := &fakeJobStore{addErr: errors.New("connection reset")}
	s := NewScheduler(drainer, st, zerolog.Nop())

	_, err := s.FlushVisits(context.Background())
	require.Error(t, err)
	assert.Empty(t, drainer.acked)

	st.addErr = nil
	n, err := s.FlushVisits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, drainer.acked, 1)
}

func TestFlushVisitsSkipsEmptyDrain(t *testing.T) {
	st := &fakeJobStore{}
	s := NewScheduler(&fakeDrainer{}, st, zerolog.Nop())

	n, err := s.FlushVisits(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, st.added)
}

func TestFlushVisitsReportsDrainErrors(t *testing.T) {
	s := NewScheduler(&fakeDrainer{err: errors.New("redis down")}, &fakeJobStore{}, zerolog.Nop())
	_, err := s.FlushVisits(context.Background())
	require.Error(t, err)
}

func TestClosePollsUsesClock(t *testing.T) {
	st := &fakeJobStore{closed: 3}
	s := NewScheduler(&fakeDrainer{}, st, zerolog.Nop())
	fixed := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	closed, err := s.ClosePolls(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 3, closed)
	assert.True(t, st.closedAt.Equal(fixed))
}

func TestScheduleRegistersBothJobs(t *testing.T) {
	s := NewScheduler(&fakeDrainer{}, &fakeJobStore{}, zerolog.Nop())
	s.Schedule(0)
	assert.Len(t, s.cron.Entries(), 2)
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}

func TestCronMessagesGoThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	s := NewScheduler(&fakeDrainer{}, &fakeJobStore{}, zerolog.New(&buf))

	job := cron.NewChain(cron.Recover(cronLogger{logger: s.logger})).Then(cron.FuncJob(func() {
		panic("boom")
	}))
	assert.NotPanics(t, job.Run)

	out := buf.String()
	assert.Contains(t, out, `"level":"error"`)
	assert.Contains(t, out, `"component":"jobs"`)
	assert.Contains(t, out, "panic")
}
