package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndquangr/txingest/internal/domain"
	"github.com/ndquangr/txingest/internal/storage/memory"
	"github.com/ndquangr/txingest/shared/logger"
)

type fakeDispatcher struct {
	dispatched []string
	err        error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, jobID string) error {
	if d.err != nil {
		return d.err
	}
	d.dispatched = append(d.dispatched, jobID)
	return nil
}

type fakeFiles struct {
	saved map[string]string
	err   error
}

func (f *fakeFiles) Save(jobID string, r io.Reader) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, err
	}
	if f.saved == nil {
		f.saved = make(map[string]string)
	}
	f.saved[jobID] = string(data)
	return int64(len(data)), nil
}

type fixture struct {
	store      *memory.Store
	files      *fakeFiles
	dispatcher *fakeDispatcher
	service    *Service
	userID     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	files := &fakeFiles{}
	dispatcher := &fakeDispatcher{}
	svc := NewService(logger.NewDefault().Logger, store, files, dispatcher)

	user, err := svc.RegisterUser(context.Background(), "Alice", "alice@example.com")
	require.NoError(t, err)

	return &fixture{
		store:      store,
		files:      files,
		dispatcher: dispatcher,
		service:    svc,
		userID:     user.UserID,
	}
}

func TestService_CreateJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.service.CreateJob(ctx, f.userID, strings.NewReader("csv-bytes"))
	require.NoError(t, err)
	require.NotNil(t, job)

	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, f.userID, job.UserID)
	assert.Equal(t, domain.JobStatusUploaded, job.Status)
	assert.Equal(t, "csv-bytes", f.files.saved[job.JobID])

	stored, err := f.store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusUploaded, stored.Status)
}

func TestService_CreateJob_UnknownUser(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.CreateJob(context.Background(), "no-such-user", strings.NewReader("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestService_CreateJob_SaveFailure(t *testing.T) {
	f := newFixture(t)
	f.files.err = errors.New("disk full")

	_, err := f.service.CreateJob(context.Background(), f.userID, strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to store upload")
}

func TestService_StartJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.service.CreateJob(ctx, f.userID, strings.NewReader("x"))
	require.NoError(t, err)

	require.NoError(t, f.service.StartJob(ctx, job.JobID))
	assert.Equal(t, []string{job.JobID}, f.dispatcher.dispatched)

	stored, err := f.store.GetJob(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, stored.Status)

	// A second start is rejected while the run is in flight.
	err = f.service.StartJob(ctx, job.JobID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrJobAlreadyRunning)
	assert.Len(t, f.dispatcher.dispatched, 1)
}

func TestService_StartJob_TerminalJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.service.CreateJob(ctx, f.userID, strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, f.service.StartJob(ctx, job.JobID))
	_, err = f.store.MarkCompleted(ctx, job.JobID)
	require.NoError(t, err)

	// COMPLETED and FAILED are terminal; a finished job never restarts.
	err = f.service.StartJob(ctx, job.JobID)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrJobTerminal)
}

func TestService_StartJob_NotFound(t *testing.T) {
	f := newFixture(t)

	err := f.service.StartJob(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestService_StartJob_DispatchFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.service.CreateJob(ctx, f.userID, strings.NewReader("x"))
	require.NoError(t, err)

	f.dispatcher.err = errors.New("broker unavailable")
	err = f.service.StartJob(ctx, job.JobID)
	require.Error(t, err)

	// The job must not stay RUNNING with no run behind it.
	stored, getErr := f.store.GetJob(ctx, job.JobID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, "failed to dispatch run", stored.ErrorMessage)
}

func TestService_GetStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.service.CreateJob(ctx, f.userID, strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, f.service.StartJob(ctx, job.JobID))

	require.NoError(t, f.store.InitRun(ctx, job.JobID, 200))
	_, _, err = f.store.ApplyChunk(ctx, job.JobID, 0, nil, domain.ChunkTally{Processed: 100, Valid: 90, Invalid: 10, Suspicious: 3})
	require.NoError(t, err)

	status, err := f.service.GetStatus(ctx, job.JobID)
	require.NoError(t, err)

	assert.Equal(t, domain.JobStatusRunning, status.Status)
	assert.Equal(t, 200, status.TotalRecords)
	assert.Equal(t, 100, status.ProcessedRecords)
	assert.Equal(t, 90, status.ValidRecords)
	assert.Equal(t, 10, status.InvalidRecords)
	assert.Equal(t, 3, status.SuspiciousRecords)
	assert.Equal(t, 50, status.ProgressPercent)
	assert.Empty(t, status.ErrorMessage)
}

func TestService_GetStatus_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.GetStatus(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func seedTransactions(t *testing.T, f *fixture, jobID string, total int) {
	t.Helper()
	ctx := context.Background()

	txns := make([]domain.Transaction, 0, total)
	var tally domain.ChunkTally
	for i := 0; i < total; i++ {
		valid := i%5 != 0      // every fifth row invalid
		suspicious := i%7 == 0 // every seventh row suspicious
		txns = append(txns, domain.Transaction{
			JobID:         jobID,
			TransactionID: fmt.Sprintf("T%03d", i),
			UserID:        f.userID,
			IsValid:       valid,
			IsSuspicious:  suspicious,
		})
		tally.Processed++
		if valid {
			tally.Valid++
		} else {
			tally.Invalid++
		}
		if suspicious {
			tally.Suspicious++
		}
	}
	_, _, err := f.store.ApplyChunk(ctx, jobID, 0, txns, tally)
	require.NoError(t, err)
}

func TestService_ListTransactions_Pagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.service.CreateJob(ctx, f.userID, strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, f.service.StartJob(ctx, job.JobID))
	seedTransactions(t, f, job.JobID, 25)

	page1, err := f.service.ListTransactions(ctx, job.JobID, 1, 10, domain.FilterNone)
	require.NoError(t, err)
	require.Len(t, page1, 10)
	assert.Equal(t, "T000", page1[0].TransactionID)
	assert.Equal(t, "T009", page1[9].TransactionID)

	page2, err := f.service.ListTransactions(ctx, job.JobID, 2, 10, domain.FilterNone)
	require.NoError(t, err)
	require.Len(t, page2, 10)
	assert.Equal(t, "T010", page2[0].TransactionID)

	page3, err := f.service.ListTransactions(ctx, job.JobID, 3, 10, domain.FilterNone)
	require.NoError(t, err)
	assert.Len(t, page3, 5)

	page4, err := f.service.ListTransactions(ctx, job.JobID, 4, 10, domain.FilterNone)
	require.NoError(t, err)
	assert.Empty(t, page4)
}

func TestService_ListTransactions_Filters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.service.CreateJob(ctx, f.userID, strings.NewReader("x"))
	require.NoError(t, err)
	require.NoError(t, f.service.StartJob(ctx, job.JobID))
	seedTransactions(t, f, job.JobID, 25)

	valid, err := f.service.ListTransactions(ctx, job.JobID, 1, 100, domain.FilterValid)
	require.NoError(t, err)
	invalid, err := f.service.ListTransactions(ctx, job.JobID, 1, 100, domain.FilterInvalid)
	require.NoError(t, err)
	suspicious, err := f.service.ListTransactions(ctx, job.JobID, 1, 100, domain.FilterSuspicious)
	require.NoError(t, err)

	assert.Len(t, invalid, 5)      // rows 0,5,10,15,20
	assert.Len(t, valid, 20)       // the rest
	assert.Len(t, suspicious, 4)   // rows 0,7,14,21
	for _, tx := range valid {
		assert.True(t, tx.IsValid)
	}
	for _, tx := range invalid {
		assert.False(t, tx.IsValid)
	}
	for _, tx := range suspicious {
		assert.True(t, tx.IsSuspicious)
	}
}

func TestService_ListTransactions_UnknownFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.service.CreateJob(ctx, f.userID, strings.NewReader("x"))
	require.NoError(t, err)

	_, err = f.service.ListTransactions(ctx, job.JobID, 1, 10, domain.TransactionFilter("bogus"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown transaction filter")
}

func TestService_ListTransactions_UnknownJob(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.ListTransactions(context.Background(), "missing", 1, 10, domain.FilterNone)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestService_RegisterUser_DuplicateEmail(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.RegisterUser(context.Background(), "Other", "alice@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrEmailTaken)
}
