package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/sitegen/internal/config"
	ferrors "git.home.luguber.info/inful/sitegen/internal/foundation/errors"
	"git.home.luguber.info/inful/sitegen/internal/retry"
)

type fakePublisher struct {
	subject  string
	data     []byte
	failPub  error
	failures int // publishes that fail before one succeeds
	attempts int
	flushed  bool
	closed   bool
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.attempts++
	if f.failPub != nil && (f.failures == 0 || f.attempts <= f.failures) {
		return f.failPub
	}
	f.subject, f.data = subject, data
	return nil
}

func (f *fakePublisher) FlushWithContext(context.Context) error {
	f.flushed = true
	return nil
}

func (f *fakePublisher) Close() { f.closed = true }

func TestBuildCompletedPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	n := New(pub, "", nil)
	require.NoError(t, n.BuildCompleted(t.Context(), Message{BuildID: "b1", Outcome: "success", Files: 4}))

	assert.Equal(t, config.DefaultNotifySubject, pub.subject)
	assert.True(t, pub.flushed)
	var got Message
	require.NoError(t, json.Unmarshal(pub.data, &got))
	assert.Equal(t, "b1", got.BuildID)
	assert.Equal(t, 4, got.Files)

	n.Close()
	assert.True(t, pub.closed)
}

var quickRetry = retry.Policy{Mode: config.RetryBackoffFixed, Initial: time.Millisecond, Max: time.Millisecond, MaxRetries: 2}

func TestPublishFailureIsWarning(t *testing.T) {
	pub := &fakePublisher{failPub: errors.New("nats: connection closed")}
	n := New(pub, "site.events", nil).WithRetry(quickRetry)
	err := n.BuildCompleted(t.Context(), Message{BuildID: "b2"})
	require.Error(t, err)
	assert.True(t, ferrors.HasSeverity(err, ferrors.SeverityWarning))
	assert.Equal(t, 3, pub.attempts)
}

func TestPublishRetriesTransientFailure(t *testing.T) {
	pub := &fakePublisher{failPub: errors.New("nats: timeout"), failures: 1}
	n := New(pub, "site.events", nil).WithRetry(quickRetry)
	require.NoError(t, n.BuildCompleted(t.Context(), Message{BuildID: "b3"}))
	assert.Equal(t, 2, pub.attempts)
	assert.Equal(t, "site.events", pub.subject)
	assert.True(t, pub.flushed)
}

func TestConnectWithoutURLIsDisabled(t *testing.T) {
	n, err := Connect(config.NotifyConfig{}, nil)
	require.NoError(t, err)
	assert.Nil(t, n)
	assert.NoError(t, n.BuildCompleted(t.Context(), Message{}))
}

func TestConnectUnreachableServer(t *testing.T) {
	_, err := Connect(config.NotifyConfig{NATSURL: "nats://127.0.0.1:1"}, nil)
	require.Error(t, err)
	assert.True(t, ferrors.HasCategory(err, ferrors.CategoryRuntime))
}
