package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"knowledgelink-go/pkg/tasks"
)

type fakeReader struct {
	msgs      []kafka.Message
	committed []int64
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := f.msgs[0]
	f.msgs = f.msgs[1:]
	return m, nil
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func message(t *testing.T, offset int64, task tasks.IngestTask) kafka.Message {
	t.Helper()
	b, err := json.Marshal(task)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: b}
}

func TestConsumer_CommitsOnSuccess(t *testing.T) {
	var got []string
	c := NewConsumer(Config{MaxAttempts: 3}, tasks.HandlerFunc(func(_ context.Context, task tasks.IngestTask) error {
		got = append(got, task.DocumentID)
		return nil
	}), nil)

	r := &fakeReader{msgs: []kafka.Message{
		message(t, 1, tasks.IngestTask{DocumentID: "a"}),
		{Offset: 2, Value: []byte("not json")},
		message(t, 3, tasks.IngestTask{DocumentID: "b"}),
	}}
	c.run(context.Background(), 0, r)

	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, []int64{1, 2, 3}, r.committed)
}

// 每条消息只投递一次，与 kafka-go 的 reader 一致：失败的消息不会被再次 Fetch。
func newTestConsumer(maxAttempts int, h tasks.HandlerFunc) *Consumer {
	return NewConsumer(Config{MaxAttempts: maxAttempts, RetryBackoff: time.Millisecond}, h, nil)
}

func TestConsumer_RetriesWithinHandle(t *testing.T) {
	calls := 0
	c := newTestConsumer(3, func(context.Context, tasks.IngestTask) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	r := &fakeReader{msgs: []kafka.Message{message(t, 7, tasks.IngestTask{DocumentID: "doc"})}}
	c.run(context.Background(), 0, r)

	assert.Equal(t, 3, calls)
	assert.Equal(t, []int64{7}, r.committed)

	// 成功后计数清零
	n, err := c.counter.Incr(context.Background(), "doc")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestConsumer_CommitsAfterMaxAttempts(t *testing.T) {
	calls := map[string]int{}
	c := newTestConsumer(3, func(_ context.Context, task tasks.IngestTask) error {
		calls[task.DocumentID]++
		if task.DocumentID == "doc" {
			return errors.New("boom")
		}
		return nil
	})

	r := &fakeReader{msgs: []kafka.Message{
		message(t, 7, tasks.IngestTask{DocumentID: "doc"}),
		message(t, 8, tasks.IngestTask{DocumentID: "next"}),
	}}
	c.run(context.Background(), 0, r)

	assert.Equal(t, 3, calls["doc"])
	assert.Equal(t, 1, calls["next"])
	assert.Equal(t, []int64{7, 8}, r.committed)

	n, err := c.counter.Incr(context.Background(), "doc")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestConsumer_ResumesAttemptsAfterRestart(t *testing.T) {
	calls := 0
	c := newTestConsumer(3, func(context.Context, tasks.IngestTask) error {
		calls++
		return errors.New("boom")
	})
	// 上一个进程已经尝试了两次
	for i := 0; i < 2; i++ {
		_, err := c.counter.Incr(context.Background(), "doc")
		require.NoError(t, err)
	}

	r := &fakeReader{msgs: []kafka.Message{message(t, 7, tasks.IngestTask{DocumentID: "doc"})}}
	c.run(context.Background(), 0, r)

	assert.Equal(t, 1, calls)
	assert.Equal(t, []int64{7}, r.committed)
}

func TestConsumer_ShutdownDoesNotCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := newTestConsumer(3, func(context.Context, tasks.IngestTask) error {
		cancel()
		return errors.New("interrupted")
	})

	r := &fakeReader{}
	c.handle(ctx, 0, r, message(t, 7, tasks.IngestTask{DocumentID: "doc"}))
	assert.Empty(t, r.committed)
}
