package storage

import (
	"io"
	"net/http"
	"sync/atomic"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// transferCounter sums request body bytes written by the HTTP client across
// all parts of one upload. Bytes of a failed request are taken back so a
// retried part is not counted twice.
type transferCounter struct {
	total int64
	sent  atomic.Int64
	fn    ProgressFunc
}

func newTransferCounter(total int64, fn ProgressFunc) *transferCounter {
	return &transferCounter{total: total, fn: fn}
}

func (t *transferCounter) add(n int64) {
	sent := t.sent.Add(n)
	if t.fn == nil || n <= 0 {
		return
	}
	if sent > t.total {
		sent = t.total
	}
	t.fn(sent, t.total)
}

func (t *transferCounter) wrap(next s3.HTTPClient) s3.HTTPClient {
	if next == nil {
		next = awshttp.NewBuildableClient()
	}
	return &countingClient{next: next, counter: t}
}

// countingClient counts the bodies of outgoing PUT requests.
type countingClient struct {
	next    s3.HTTPClient
	counter *transferCounter
}

func (c *countingClient) Do(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodPut || req.Body == nil || req.Body == http.NoBody {
		return c.next.Do(req)
	}

	body := &countingBody{ReadCloser: req.Body, counter: c.counter}
	req.Body = body

	resp, err := c.next.Do(req)
	if err != nil || resp.StatusCode >= http.StatusMultipleChoices {
		c.counter.add(-body.read.Load())
	}
	return resp, err
}

type countingBody struct {
	io.ReadCloser
	counter *transferCounter
	read    atomic.Int64
}

func (b *countingBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 {
		b.read.Add(int64(n))
		b.counter.add(int64(n))
	}
	return n, err
}
