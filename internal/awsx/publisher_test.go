package awsx

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	sent []*sqs.SendMessageInput
	err  error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func TestPublisherSend(t *testing.T) {
	f := &fakeSQS{}
	p := NewPublisher(f, "https://sqs.local/q")

	require.NoError(t, p.Send(context.Background(), []byte(`{"a":1}`), map[string]string{"event_type": "order.placed"}))
	require.Len(t, f.sent, 1)
	assert.Equal(t, "https://sqs.local/q", *f.sent[0].QueueUrl)
	assert.Equal(t, `{"a":1}`, *f.sent[0].MessageBody)
	assert.Equal(t, "order.placed", *f.sent[0].MessageAttributes["event_type"].StringValue)
}

func TestPublisherSendError(t *testing.T) {
	p := NewPublisher(&fakeSQS{err: errors.New("throttled")}, "q")
	err := p.Send(context.Background(), []byte("{}"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}
