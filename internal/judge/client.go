package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	util "github.com/CodeAndHammer/heungbuja/internal/util"
)

var (
	ErrServiceUnavailable = errors.New("judgment service unavailable")
	ErrQueueFull          = errors.New("judgment queue full")
	ErrClosed             = errors.New("judgment client closed")
)

const (
	defaultAnalyzePath = "/api/ai/brandnew/analyze"
	defaultPosePath    = "/api/ai/brandnew/analyze-pose"
	maxJudgment        = 3
)

// Request is one ordered window of samples for a single expected action.
// When PoseFrames is set the landmark endpoint is used instead of raw frames.
type Request struct {
	ActionCode int
	ActionName string
	Frames     []string
	PoseFrames [][][]float64
}

func (r Request) FrameCount() int {
	if len(r.PoseFrames) > 0 {
		return len(r.PoseFrames)
	}
	return len(r.Frames)
}

// Result is always usable: on failure Judgment is 0 and Err carries the cause.
type Result struct {
	ActionCode        int
	Judgment          int
	PredictedLabel    string
	Confidence        float64
	TargetProbability float64
	InferenceTimeMs   float64
	FrameCount        int
	Elapsed           time.Duration
	Err               error
}

type analyzeRequest struct {
	ActionCode int           `json:"actionCode"`
	ActionName string        `json:"actionName"`
	FrameCount int           `json:"frameCount"`
	Frames     []string      `json:"frames,omitempty"`
	PoseFrames [][][]float64 `json:"poseFrames,omitempty"`
}

type analyzeResponse struct {
	ActionCode        *int     `json:"actionCode"`
	Judgment          *int     `json:"judgment"`
	PredictedLabel    string   `json:"predictedLabel"`
	Confidence        float64  `json:"confidence"`
	TargetProbability *float64 `json:"targetProbability"`
	DecodeTimeMs      float64  `json:"decodeTimeMs"`
	PoseTimeMs        float64  `json:"poseTimeMs"`
	InferenceTimeMs   float64  `json:"inferenceTimeMs"`
}

type Options struct {
	BaseURL     string
	AnalyzePath string
	PosePath    string
	Timeout     time.Duration
	Workers     int
	QueueSize   int
}

type job struct {
	req  Request
	done func(Result)
}

// Client calls the external motion classifier. Submit hands work to a fixed
// pool of workers and never blocks the caller.
type Client struct {
	baseURL     string
	analyzePath string
	posePath    string
	httpClient  *http.Client

	queue   chan job
	workers int

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func NewClient(opts Options) *Client {
	ensureMetrics()
	if opts.AnalyzePath == "" {
		opts.AnalyzePath = defaultAnalyzePath
	}
	if opts.PosePath == "" {
		opts.PosePath = defaultPosePath
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	return &Client{
		baseURL:     opts.BaseURL,
		analyzePath: opts.AnalyzePath,
		posePath:    opts.PosePath,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		queue:   make(chan job, opts.QueueSize),
		workers: opts.Workers,
	}
}

// Start launches the worker pool. Workers stop after Close drains the queue.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	util.LogInfo("Started %d judgment workers", c.workers)
}

func (c *Client) worker() {
	defer c.wg.Done()
	for j := range c.queue {
		queueDepthGauge.Dec()
		j.done(c.Judge(context.Background(), j.req))
	}
}

// Submit queues a request. done is called exactly once, from a worker, or
// with a zero judgment right away when the queue is full or closed.
func (c *Client) Submit(req Request, done func(Result)) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		go done(fallback(req, ErrClosed, 0))
		return
	}
	select {
	case c.queue <- job{req: req, done: done}:
		queueDepthGauge.Inc()
	default:
		requestsTotal.WithLabelValues(c.endpoint(req), outcomeOverflow).Inc()
		util.LogWarn("Judgment queue full, falling back to 0 for action %d", req.ActionCode)
		go done(fallback(req, ErrQueueFull, 0))
	}
}

// Close stops accepting work and waits for queued requests to finish.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.queue)
	started := c.started
	c.mu.Unlock()

	if !started {
		for j := range c.queue {
			queueDepthGauge.Dec()
			j.done(fallback(j.req, ErrClosed, 0))
		}
		return
	}
	c.wg.Wait()
}

func (c *Client) endpoint(req Request) string {
	if len(req.PoseFrames) > 0 {
		return c.posePath
	}
	return c.analyzePath
}

// Judge calls the classifier synchronously. Failures of any kind produce a
// zero judgment with Err set.
func (c *Client) Judge(ctx context.Context, req Request) Result {
	endpoint := c.endpoint(req)
	start := time.Now()

	resp, err := c.call(ctx, endpoint, req)
	elapsed := time.Since(start)
	requestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())

	if err != nil {
		requestsTotal.WithLabelValues(endpoint, outcomeFailure).Inc()
		return fallback(req, fmt.Errorf("%w: %w", ErrServiceUnavailable, err), elapsed)
	}
	requestsTotal.WithLabelValues(endpoint, outcomeSuccess).Inc()

	res := Result{
		ActionCode:      req.ActionCode,
		Judgment:        *resp.Judgment,
		PredictedLabel:  resp.PredictedLabel,
		Confidence:      resp.Confidence,
		InferenceTimeMs: resp.InferenceTimeMs,
		FrameCount:      req.FrameCount(),
		Elapsed:         elapsed,
	}
	if resp.TargetProbability != nil {
		res.TargetProbability = *resp.TargetProbability
	}
	return res
}

func (c *Client) call(ctx context.Context, endpoint string, req Request) (*analyzeResponse, error) {
	body := analyzeRequest{
		ActionCode: req.ActionCode,
		ActionName: req.ActionName,
		FrameCount: req.FrameCount(),
		Frames:     req.Frames,
		PoseFrames: req.PoseFrames,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal analyze request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build analyze request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("motion analyze: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read analyze response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("motion analyze: status %d: %s", resp.StatusCode, string(raw))
	}

	var out analyzeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode analyze response: %w", err)
	}
	if out.Judgment == nil || *out.Judgment < 0 || *out.Judgment > maxJudgment {
		return nil, fmt.Errorf("analyze response has no valid judgment")
	}
	return &out, nil
}

func fallback(req Request, err error, elapsed time.Duration) Result {
	return Result{
		ActionCode: req.ActionCode,
		Judgment:   0,
		FrameCount: req.FrameCount(),
		Elapsed:    elapsed,
		Err:        err,
	}
}
