package sender

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lightalert/internal/external"
	"lightalert/internal/types"
)

// --- Mocks ---

type mockQueue struct {
	mock.Mock
}

func (m *mockQueue) ClaimPending(ctx context.Context, limit, maxAttempts int) ([]*types.Message, error) {
	args := m.Called(ctx, limit, maxAttempts)
	if r := args.Get(0); r != nil {
		return r.([]*types.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockQueue) MarkFailed(ctx context.Context, id int64, lastError string, exhausted bool) (bool, error) {
	args := m.Called(ctx, id, lastError, exhausted)
	return args.Bool(0), args.Error(1)
}

func (m *mockQueue) ReleaseAbandoned(ctx context.Context, claimedBefore time.Time) (int64, error) {
	args := m.Called(ctx, claimedBefore)
	return args.Get(0).(int64), args.Error(1)
}

type mockAckStore struct {
	mock.Mock
}

func (m *mockAckStore) MarkSent(ctx context.Context, id int64, providerMessageID string) (bool, error) {
	args := m.Called(ctx, id, providerMessageID)
	return args.Bool(0), args.Error(1)
}

type mockAlertMarker struct {
	mock.Mock
}

func (m *mockAlertMarker) MarkSentByMessage(ctx context.Context, messageID int64) error {
	args := m.Called(ctx, messageID)
	return args.Error(0)
}

// fakeSentTx hands the callback the test's stores and remembers whether the
// callback failed, which in production rolls the transaction back.
type fakeSentTx struct {
	messages SentAckStore
	alerts   AlertMarker

	mu         sync.Mutex
	rolledBack bool
}

func (f *fakeSentTx) RunInTx(ctx context.Context, fn func(ctx context.Context, messages SentAckStore, alerts AlertMarker) error) error {
	if err := fn(ctx, f.messages, f.alerts); err != nil {
		f.mu.Lock()
		f.rolledBack = true
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeSentTx) didRollBack() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rolledBack
}

// fakeProvider records sends and fails addresses listed in failTo.
type fakeProvider struct {
	mu     sync.Mutex
	sends  []external.SendInput
	failTo map[string]error
}

func (f *fakeProvider) Send(ctx context.Context, input external.SendInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, input)
	if len(input.To) > 0 {
		if err, ok := f.failTo[input.To[0]]; ok {
			return "", err
		}
	}
	return "re_ok", nil
}

func claimedMessage(id int64, attempts int, to string) *types.Message {
	return &types.Message{
		ID:         id,
		Channel:    types.ChannelEmail,
		Subject:    "asunto",
		BodyHTML:   "<p>cuerpo</p>",
		BodyText:   "cuerpo",
		Recipients: []string{to},
		State:      types.MessageSending,
		Attempts:   attempts,
	}
}

func newTestWorker(queue *mockQueue, tx *fakeSentTx, provider external.EmailProvider) *Worker {
	return NewWorker(WorkerConfig{
		Queue:          queue,
		SentTx:         tx,
		Provider:       provider,
		FromAddress:    "alertas@lightalert.local",
		FromName:       "Sistema de Alertas",
		MaxAttempts:    3,
		ClaimBatch:     20,
		AbandonedAfter: 15 * time.Minute,
		Concurrency:    2,
	})
}

// --- Tests ---

func TestWorker_RunOnce_SendsClaimedMessages(t *testing.T) {
	queue := new(mockQueue)
	ack := new(mockAckStore)
	alerts := new(mockAlertMarker)
	provider := &fakeProvider{}
	w := newTestWorker(queue, &fakeSentTx{messages: ack, alerts: alerts}, provider)

	queue.On("ReleaseAbandoned", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(0), nil)
	queue.On("ClaimPending", mock.Anything, 20, 3).Return([]*types.Message{
		claimedMessage(1, 1, "a@fundo.cl"),
		claimedMessage(2, 1, "b@fundo.cl"),
	}, nil)
	ack.On("MarkSent", mock.Anything, mock.AnythingOfType("int64"), "re_ok").Return(true, nil)
	alerts.On("MarkSentByMessage", mock.Anything, mock.AnythingOfType("int64")).Return(nil)

	report, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Sent)
	assert.Equal(t, 0, report.Failed)
	assert.Len(t, provider.sends, 2)
	alerts.AssertNumberOfCalls(t, "MarkSentByMessage", 2)
}

func TestWorker_RunOnce_FailureBelowCeilingReturnsToPending(t *testing.T) {
	queue := new(mockQueue)
	ack := new(mockAckStore)
	alerts := new(mockAlertMarker)
	provider := &fakeProvider{failTo: map[string]error{
		"a@fundo.cl": errors.New("provider timeout"),
	}}
	w := newTestWorker(queue, &fakeSentTx{messages: ack, alerts: alerts}, provider)

	queue.On("ReleaseAbandoned", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(0), nil)
	queue.On("ClaimPending", mock.Anything, 20, 3).Return([]*types.Message{
		claimedMessage(1, 1, "a@fundo.cl"),
	}, nil)
	queue.On("MarkFailed", mock.Anything, int64(1), "provider timeout", false).Return(true, nil)

	report, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 1, report.Failed)
	queue.AssertExpectations(t)
	alerts.AssertNotCalled(t, "MarkSentByMessage", mock.Anything, mock.Anything)
}

func TestWorker_RunOnce_FinalAttemptParksInError(t *testing.T) {
	queue := new(mockQueue)
	ack := new(mockAckStore)
	alerts := new(mockAlertMarker)
	provider := &fakeProvider{failTo: map[string]error{
		"a@fundo.cl": errors.New("still down"),
	}}
	w := newTestWorker(queue, &fakeSentTx{messages: ack, alerts: alerts}, provider)

	queue.On("ReleaseAbandoned", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(0), nil)
	// Third attempt: the claim already incremented attempts to the ceiling.
	queue.On("ClaimPending", mock.Anything, 20, 3).Return([]*types.Message{
		claimedMessage(1, 3, "a@fundo.cl"),
	}, nil)
	queue.On("MarkFailed", mock.Anything, int64(1), "still down", true).Return(true, nil)

	report, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	queue.AssertExpectations(t)
}

func TestWorker_RunOnce_SweepsAbandonedBeforeClaiming(t *testing.T) {
	queue := new(mockQueue)
	ack := new(mockAckStore)
	alerts := new(mockAlertMarker)
	provider := &fakeProvider{}
	w := newTestWorker(queue, &fakeSentTx{messages: ack, alerts: alerts}, provider)

	queue.On("ReleaseAbandoned", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(2), nil)
	queue.On("ClaimPending", mock.Anything, 20, 3).Return([]*types.Message{}, nil)

	report, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Sent)
	queue.AssertCalled(t, "ReleaseAbandoned", mock.Anything, mock.AnythingOfType("time.Time"))
}

func TestWorker_RunOnce_LostClaimAfterSendStillCountsSent(t *testing.T) {
	queue := new(mockQueue)
	ack := new(mockAckStore)
	alerts := new(mockAlertMarker)
	provider := &fakeProvider{}
	w := newTestWorker(queue, &fakeSentTx{messages: ack, alerts: alerts}, provider)

	queue.On("ReleaseAbandoned", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(0), nil)
	queue.On("ClaimPending", mock.Anything, 20, 3).Return([]*types.Message{
		claimedMessage(1, 1, "a@fundo.cl"),
	}, nil)
	ack.On("MarkSent", mock.Anything, int64(1), "re_ok").Return(false, nil)

	report, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Sent)
	// Alerts are only marked when the ack landed.
	alerts.AssertNotCalled(t, "MarkSentByMessage", mock.Anything, mock.Anything)
}

func TestWorker_RunOnce_AlertMarkFailureRollsBackAck(t *testing.T) {
	queue := new(mockQueue)
	ack := new(mockAckStore)
	alerts := new(mockAlertMarker)
	provider := &fakeProvider{}
	tx := &fakeSentTx{messages: ack, alerts: alerts}
	w := newTestWorker(queue, tx, provider)

	queue.On("ReleaseAbandoned", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(0), nil)
	queue.On("ClaimPending", mock.Anything, 20, 3).Return([]*types.Message{
		claimedMessage(1, 1, "a@fundo.cl"),
	}, nil)
	ack.On("MarkSent", mock.Anything, int64(1), "re_ok").Return(true, nil)
	alerts.On("MarkSentByMessage", mock.Anything, int64(1)).
		Return(types.NewAppError(types.ErrCodeInternalDB, "db down", errors.New("conn refused")))

	report, err := w.RunOnce(context.Background())
	require.NoError(t, err)

	// The message ack must not survive a failed alert update; the claim
	// stays in place so the sweep retries the whole acknowledgment.
	assert.True(t, tx.didRollBack())
	assert.Equal(t, 0, report.Sent)
	assert.Equal(t, 1, report.Failed)
}

func TestWorker_RunOnce_ClaimErrorPropagates(t *testing.T) {
	queue := new(mockQueue)
	ack := new(mockAckStore)
	alerts := new(mockAlertMarker)
	provider := &fakeProvider{}
	w := newTestWorker(queue, &fakeSentTx{messages: ack, alerts: alerts}, provider)

	queue.On("ReleaseAbandoned", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(0), nil)
	queue.On("ClaimPending", mock.Anything, 20, 3).
		Return(nil, types.NewAppError(types.ErrCodeInternalDB, "db down", errors.New("conn refused")))

	_, err := w.RunOnce(context.Background())
	require.Error(t, err)
}

func TestWorker_RunOnce_UsesConfiguredSender(t *testing.T) {
	queue := new(mockQueue)
	ack := new(mockAckStore)
	alerts := new(mockAlertMarker)
	provider := &fakeProvider{}
	w := newTestWorker(queue, &fakeSentTx{messages: ack, alerts: alerts}, provider)

	queue.On("ReleaseAbandoned", mock.Anything, mock.AnythingOfType("time.Time")).Return(int64(0), nil)
	queue.On("ClaimPending", mock.Anything, 20, 3).Return([]*types.Message{
		claimedMessage(1, 1, "a@fundo.cl"),
	}, nil)
	ack.On("MarkSent", mock.Anything, int64(1), "re_ok").Return(true, nil)
	alerts.On("MarkSentByMessage", mock.Anything, int64(1)).Return(nil)

	_, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, provider.sends, 1)
	assert.Equal(t, "alertas@lightalert.local", provider.sends[0].FromAddress)
	assert.Equal(t, "msg-1", provider.sends[0].ReferenceID)
}
