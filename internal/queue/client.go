package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

type Client struct {
	client   *asynq.Client
	queue    string
	maxRetry int
	timeout  time.Duration
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string, maxRetry int, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	return &Client{
		client:   asynq.NewClient(redisOpt),
		queue:    queueName,
		maxRetry: max(0, maxRetry),
		timeout:  timeout,
	}
}

func (c *Client) EnqueueSwapFace(ctx context.Context, payload SwapFacePayload) (*asynq.TaskInfo, error) {
	task, err := NewSwapFaceTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(c.maxRetry),
		asynq.Timeout(c.timeout),
	)
}

func (c *Client) Close() error {
	return c.client.Close()
}
