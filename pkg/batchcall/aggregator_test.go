package batchcall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voicegate/callgate/pkg/models"
)

type fakeRepo struct {
	batches map[string]*models.BatchCall
}

func newFakeRepo(batch models.BatchCall) *fakeRepo {
	b := batch
	return &fakeRepo{batches: map[string]*models.BatchCall{b.BatchID: &b}}
}

func (f *fakeRepo) GetByID(_ context.Context, batchID string) (*models.BatchCall, error) {
	b, ok := f.batches[batchID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeRepo) FindPendingRecipientByPhone(_ context.Context, phone string, since time.Time) (string, string, error) {
	for _, b := range f.batches {
		for _, r := range b.Recipients {
			if r.ExternalPhone == phone && r.UpdatedAt.After(since) &&
				(r.Status == models.RecipientPending || r.Status == models.RecipientInProgress) {
				return b.BatchID, r.RecipientID, nil
			}
		}
	}
	return "", "", nil
}

func (f *fakeRepo) UpdateRecipient(_ context.Context, batchID string, recipient models.BatchRecipient) error {
	b := f.batches[batchID]
	for i, r := range b.Recipients {
		if r.RecipientID == recipient.RecipientID {
			b.Recipients[i] = recipient
			return nil
		}
	}
	return nil
}

func (f *fakeRepo) SaveAggregate(_ context.Context, batch models.BatchCall) error {
	f.batches[batch.BatchID] = &batch
	return nil
}

func baseBatch() models.BatchCall {
	now := time.Now()
	return models.BatchCall{
		BatchID: "batch_1",
		Status:  models.BatchPending,
		Recipients: []models.BatchRecipient{
			{RecipientID: "r1", ExternalPhone: "+15550001", Status: models.RecipientInProgress, UpdatedAt: now},
			{RecipientID: "r2", ExternalPhone: "+15550002", Status: models.RecipientInProgress, UpdatedAt: now},
		},
		CreatedAt: now,
	}
}

func TestRecordOutcome_DirectMatchMarksCompleted(t *testing.T) {
	repo := newFakeRepo(baseBatch())
	agg := NewAggregator(repo)

	err := agg.RecordOutcome(context.Background(), "batch_1", "r1", "+15550001", "log_1", "completed")
	require.NoError(t, err)

	batch, err := repo.GetByID(context.Background(), "batch_1")
	require.NoError(t, err)
	require.Equal(t, models.BatchInProgress, batch.Status)
	require.Equal(t, 1, batch.Completed)
}

func TestRecordOutcome_CompletesCampaignWhenAllRecipientsSettled(t *testing.T) {
	repo := newFakeRepo(baseBatch())
	agg := NewAggregator(repo)
	ctx := context.Background()

	require.NoError(t, agg.RecordOutcome(ctx, "batch_1", "r1", "+15550001", "log_1", "completed"))
	require.NoError(t, agg.RecordOutcome(ctx, "batch_1", "r2", "+15550002", "log_2", "failed"))

	batch, err := repo.GetByID(ctx, "batch_1")
	require.NoError(t, err)
	require.Equal(t, models.BatchCompleted, batch.Status)
	require.NotNil(t, batch.CompletedAt)
	require.Equal(t, 1, batch.Successful)
	require.Equal(t, 1, batch.Failed)
}

func TestRecordOutcome_FallsBackToPhoneMatchWhenIDsMissing(t *testing.T) {
	repo := newFakeRepo(baseBatch())
	agg := NewAggregator(repo)

	err := agg.RecordOutcome(context.Background(), "", "", "+15550002", "log_9", "completed")
	require.NoError(t, err)

	batch, err := repo.GetByID(context.Background(), "batch_1")
	require.NoError(t, err)
	require.Equal(t, 1, batch.Completed)
	require.Equal(t, models.RecipientCompleted, batch.Recipients[1].Status)
}

func TestRecordOutcome_NoMatchReturnsError(t *testing.T) {
	repo := newFakeRepo(baseBatch())
	agg := NewAggregator(repo)

	err := agg.RecordOutcome(context.Background(), "", "", "+15559999", "log_9", "completed")
	require.Error(t, err)
}
