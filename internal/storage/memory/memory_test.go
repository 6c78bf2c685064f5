package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndquangr/txingest/internal/domain"
)

func newRunningJob(t *testing.T, store *Store, jobID string) {
	t.Helper()
	require.NoError(t, store.CreateJob(context.Background(), &domain.Job{
		JobID:  jobID,
		UserID: "user-1",
		Status: domain.JobStatusRunning,
	}))
}

func TestStore_ClaimRun_SameWorkerReclaims(t *testing.T) {
	store := NewStore()
	newRunningJob(t, store, "job-1")

	require.NoError(t, store.ClaimRun(context.Background(), "job-1", "worker-a"))
	// A redelivery to the same worker is harmless.
	require.NoError(t, store.ClaimRun(context.Background(), "job-1", "worker-a"))
}

func TestStore_ClaimRun_FreshClaimIsExclusive(t *testing.T) {
	store := NewStore()
	newRunningJob(t, store, "job-1")

	require.NoError(t, store.ClaimRun(context.Background(), "job-1", "worker-a"))

	// worker-a just heartbeat; worker-b must not steal the run.
	err := store.ClaimRun(context.Background(), "job-1", "worker-b")
	require.ErrorIs(t, err, domain.ErrRunAlreadyClaimed)

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "worker-a", job.WorkerID)
}

func TestStore_ClaimRun_StaleClaimIsTakenOver(t *testing.T) {
	store := NewStore()
	store.SetClaimStaleAfter(time.Millisecond)
	newRunningJob(t, store, "job-1")

	require.NoError(t, store.ClaimRun(context.Background(), "job-1", "worker-a"))

	// worker-a dies without a further heartbeat; once the claim is stale
	// the redelivered job binds to worker-b instead of wedging RUNNING.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, store.ClaimRun(context.Background(), "job-1", "worker-b"))

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, "worker-b", job.WorkerID)
	assert.Equal(t, domain.JobStatusRunning, job.Status)

	// The takeover refreshed the heartbeat, so worker-a cannot grab it back
	// once the threshold is widened.
	store.SetClaimStaleAfter(time.Hour)
	err = store.ClaimRun(context.Background(), "job-1", "worker-a")
	require.ErrorIs(t, err, domain.ErrRunAlreadyClaimed)
}

func TestStore_ClaimRun_HeartbeatKeepsClaimFresh(t *testing.T) {
	store := NewStore()
	store.SetClaimStaleAfter(time.Second)
	newRunningJob(t, store, "job-1")

	require.NoError(t, store.ClaimRun(context.Background(), "job-1", "worker-a"))
	time.Sleep(600 * time.Millisecond)
	require.NoError(t, store.Heartbeat(context.Background(), "job-1"))
	time.Sleep(600 * time.Millisecond)

	// The claim is older than the threshold but its heartbeat is not.
	err := store.ClaimRun(context.Background(), "job-1", "worker-b")
	require.ErrorIs(t, err, domain.ErrRunAlreadyClaimed)
}

func TestStore_ClaimRun_TerminalJobRejected(t *testing.T) {
	store := NewStore()
	newRunningJob(t, store, "job-1")
	_, err := store.MarkCompleted(context.Background(), "job-1")
	require.NoError(t, err)

	err = store.ClaimRun(context.Background(), "job-1", "worker-a")
	require.ErrorIs(t, err, domain.ErrRunAlreadyClaimed)
}
