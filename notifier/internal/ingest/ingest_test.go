package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issue-notifications/notifier/internal/codec"
	"issue-notifications/notifier/internal/digest"
	"issue-notifications/notifier/internal/tasks"
	"issue-notifications/shared/events"
	"issue-notifications/shared/logx"
)

var topics = Topics{
	IssueChanges:      "issues.changes",
	AnalysisNewIssues: "analysis.new-issues",
	DeadLetter:        "notifications.dead-letter",
}

type fakeRouter struct {
	got [][]codec.Properties
	err error
}

func (f *fakeRouter) DispatchIssueChanges(_ context.Context, payloads []codec.Properties) (int, error) {
	f.got = append(f.got, payloads)
	return len(payloads), f.err
}

type fakeEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	if f.err != nil {
		return nil, f.err
	}
	return &asynq.TaskInfo{ID: "t1", Type: task.Type()}, nil
}

type published struct {
	topic string
	key   []byte
	value []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, topic string, key []byte, value []byte, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, published{topic: topic, key: key, value: value})
	return nil
}

func envelope(t *testing.T, eventType string, payload any) []byte {
	t.Helper()
	env, err := events.New(eventType, "prj", payload)
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return b
}

func newHandler(t *testing.T, router *fakeRouter, enq *fakeEnqueuer, pub *fakePublisher) *Handler {
	t.Helper()
	h, err := NewHandler(router, enq, pub, topics, "default", logx.Logger{})
	require.NoError(t, err)
	return h
}

func deadLetters(t *testing.T, pub *fakePublisher) []events.DeadLetter {
	t.Helper()
	out := make([]events.DeadLetter, 0, len(pub.sent))
	for _, p := range pub.sent {
		require.Equal(t, topics.DeadLetter, p.topic)
		env, err := events.Decode(p.value)
		require.NoError(t, err)
		require.Equal(t, events.TypeDeadLetter, env.EventType)
		var dl events.DeadLetter
		require.NoError(t, json.Unmarshal(env.Payload, &dl))
		out = append(out, dl)
	}
	return out
}

func TestHandleRoutesIssueChanges(t *testing.T) {
	router, pub := &fakeRouter{}, &fakePublisher{}
	h := newHandler(t, router, &fakeEnqueuer{}, pub)

	props := codec.Properties{"type": codec.TypeIssuesChanges, "change.date": "100"}
	msg := kafka.Message{Topic: topics.IssueChanges, Value: envelope(t, events.TypeIssueChanges, props)}
	require.NoError(t, h.Handle(context.Background(), msg))

	require.Len(t, router.got, 1)
	assert.Equal(t, []codec.Properties{props}, router.got[0])
	assert.Empty(t, pub.sent)
}

func TestHandleDeadLettersPoisonMessages(t *testing.T) {
	cases := []struct {
		name   string
		msg    func(t *testing.T) kafka.Message
		router error
	}{
		{
			name: "not an envelope",
			msg: func(*testing.T) kafka.Message {
				return kafka.Message{Topic: topics.IssueChanges, Value: []byte("garbage")}
			},
		},
		{
			name: "wrong event type",
			msg: func(t *testing.T) kafka.Message {
				return kafka.Message{Topic: topics.IssueChanges, Value: envelope(t, events.TypeAnalysisNewIssue, map[string]string{})}
			},
		},
		{
			name: "payload is not a property bag",
			msg: func(t *testing.T) kafka.Message {
				return kafka.Message{Topic: topics.IssueChanges, Value: envelope(t, events.TypeIssueChanges, []int{1, 2})}
			},
		},
		{
			name: "malformed bag",
			msg: func(t *testing.T) kafka.Message {
				return kafka.Message{Topic: topics.IssueChanges, Value: envelope(t, events.TypeIssueChanges, map[string]string{"type": "x"})}
			},
			router: fmt.Errorf("payload 0: %w", codec.ErrMalformed),
		},
		{
			name: "invalid analysis",
			msg: func(t *testing.T) kafka.Message {
				return kafka.Message{Topic: topics.AnalysisNewIssues, Value: envelope(t, events.TypeAnalysisNewIssue, map[string]string{"analysis_id": ""})}
			},
		},
		{
			name: "unknown topic",
			msg: func(*testing.T) kafka.Message {
				return kafka.Message{Topic: "other", Value: []byte("{}")}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pub := &fakePublisher{}
			h := newHandler(t, &fakeRouter{err: tc.router}, &fakeEnqueuer{}, pub)
			msg := tc.msg(t)
			msg.Offset = 42

			require.NoError(t, h.Handle(context.Background(), msg))

			dls := deadLetters(t, pub)
			require.Len(t, dls, 1)
			assert.Equal(t, msg.Topic, dls[0].Topic)
			assert.Equal(t, int64(42), dls[0].Offset)
			assert.Equal(t, msg.Value, dls[0].Original)
			assert.NotEmpty(t, dls[0].Reason)
		})
	}
}

func TestHandleReturnsTransientErrors(t *testing.T) {
	pub := &fakePublisher{}
	h := newHandler(t, &fakeRouter{err: errors.New("permission service down")}, &fakeEnqueuer{}, pub)

	msg := kafka.Message{Topic: topics.IssueChanges, Value: envelope(t, events.TypeIssueChanges, codec.Properties{"type": "issues-changes"})}
	require.Error(t, h.Handle(context.Background(), msg))
	assert.Empty(t, pub.sent)
}

func TestHandleFailsWhenDeadLetterCannotBePublished(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	h := newHandler(t, &fakeRouter{}, &fakeEnqueuer{}, pub)

	err := h.Handle(context.Background(), kafka.Message{Topic: topics.IssueChanges, Value: []byte("garbage")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dead-letter")
}

func analysisPayload() digest.AnalysisNewIssues {
	return digest.AnalysisNewIssues{
		AnalysisID:   "A42",
		Project:      digest.ProjectRef{UUID: "u1", Key: "prj", Name: "Project"},
		AnalysisDate: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
		Issues:       []digest.AnalysisIssue{{Key: "k1", IsNew: true, RuleType: "BUG", RuleKey: "java:S1"}},
	}
}

func TestHandleQueuesAnalysisDigest(t *testing.T) {
	enq := &fakeEnqueuer{}
	h := newHandler(t, &fakeRouter{}, enq, &fakePublisher{})

	msg := kafka.Message{Topic: topics.AnalysisNewIssues, Value: envelope(t, events.TypeAnalysisNewIssue, analysisPayload())}
	require.NoError(t, h.Handle(context.Background(), msg))

	require.Len(t, enq.tasks, 1)
	assert.Equal(t, tasks.TypeNewIssuesProcess, enq.tasks[0].Type())
	got, err := tasks.ParseNewIssuesProcess(enq.tasks[0])
	require.NoError(t, err)
	assert.Equal(t, "A42", got.AnalysisID)
}

func TestHandleTreatsDuplicateAnalysisAsDone(t *testing.T) {
	pub := &fakePublisher{}
	h := newHandler(t, &fakeRouter{}, &fakeEnqueuer{err: asynq.ErrTaskIDConflict}, pub)

	msg := kafka.Message{Topic: topics.AnalysisNewIssues, Value: envelope(t, events.TypeAnalysisNewIssue, analysisPayload())}
	require.NoError(t, h.Handle(context.Background(), msg))
	assert.Empty(t, pub.sent)
}

func TestHandleReturnsEnqueueFailures(t *testing.T) {
	h := newHandler(t, &fakeRouter{}, &fakeEnqueuer{err: errors.New("redis down")}, &fakePublisher{})

	msg := kafka.Message{Topic: topics.AnalysisNewIssues, Value: envelope(t, events.TypeAnalysisNewIssue, analysisPayload())}
	require.Error(t, h.Handle(context.Background(), msg))
}

func TestNewHandlerValidation(t *testing.T) {
	_, err := NewHandler(nil, &fakeEnqueuer{}, &fakePublisher{}, topics, "default", logx.Logger{})
	require.Error(t, err)
	_, err = NewHandler(&fakeRouter{}, nil, &fakePublisher{}, topics, "default", logx.Logger{})
	require.Error(t, err)
	_, err = NewHandler(&fakeRouter{}, &fakeEnqueuer{}, nil, topics, "default", logx.Logger{})
	require.Error(t, err)
	_, err = NewHandler(&fakeRouter{}, nil, &fakePublisher{}, Topics{IssueChanges: "issues.changes"}, "default", logx.Logger{})
	require.NoError(t, err)
}

func TestIsPoison(t *testing.T) {
	assert.True(t, IsPoison(fmt.Errorf("x: %w", codec.ErrMalformed)))
	assert.True(t, IsPoison(events.ErrInvalidEnvelope))
	assert.True(t, IsPoison(digest.ErrInvalidAnalysis))
	assert.False(t, IsPoison(errors.New("timeout")))
}

type fakeReader struct {
	msgs      []kafka.Message
	committed []kafka.Message
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.msgs) == 0 {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	m := r.msgs[0]
	r.msgs = r.msgs[1:]
	return m, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *fakeReader) Stats() kafka.ReaderStats { return kafka.ReaderStats{} }

type flakyHandler struct {
	failures int
	calls    int
	onFail   func()
}

func (h *flakyHandler) Handle(context.Context, kafka.Message) error {
	h.calls++
	if h.calls <= h.failures {
		if h.onFail != nil {
			h.onFail()
		}
		return errors.New("transient")
	}
	return nil
}

func TestConsumerRetriesInPlaceBeforeCommitting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{msgs: []kafka.Message{{Topic: "t", Offset: 1}, {Topic: "t", Offset: 2}}, cancel: cancel}
	handler := &flakyHandler{failures: 2}

	c := NewConsumer(reader, handler, "g", logx.Logger{})
	c.backoff = func(int) time.Duration { return time.Millisecond }
	require.NoError(t, c.Run(ctx))

	assert.Equal(t, 4, handler.calls)
	require.Len(t, reader.committed, 2)
	assert.Equal(t, int64(1), reader.committed[0].Offset)
	assert.Equal(t, int64(2), reader.committed[1].Offset)
}

func TestConsumerDoesNotCommitWhenStoppedMidRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &fakeReader{msgs: []kafka.Message{{Topic: "t", Offset: 1}}, cancel: cancel}
	handler := &flakyHandler{failures: 100, onFail: cancel}

	c := NewConsumer(reader, handler, "g", logx.Logger{})
	c.backoff = func(int) time.Duration { return time.Hour }
	require.NoError(t, c.Run(ctx))

	assert.Equal(t, 1, handler.calls)
	assert.Empty(t, reader.committed)
}

func TestBackoff(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, Backoff(0))
	assert.Equal(t, 500*time.Millisecond, Backoff(1))
	assert.Equal(t, time.Second, Backoff(2))
	assert.Equal(t, 4*time.Second, Backoff(4))
	assert.Equal(t, 30*time.Second, Backoff(50))
}
