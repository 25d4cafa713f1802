package crawler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// QMsg is one unit of crawl work: a URL discovered on source at a depth.
type QMsg struct {
	SourceURL  string
	URL        string
	Depth      int
	RetryCount int
}

// taskQueue is an unbounded FIFO with task accounting. Workers enqueue the
// links they discover, so a bounded queue would deadlock once every worker
// blocks on a full queue; growth is bounded in practice by the seen set.
type taskQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []QMsg
	pending int
	closed  bool
}

func newTaskQueue() *taskQueue {
	q := &taskQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// put appends a task. Each put must be balanced by one taskDone.
func (q *taskQueue) put(m QMsg) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, m)
	q.pending++
	q.cond.Broadcast()
}

// get blocks until a task is available or the queue closes.
func (q *taskQueue) get() (QMsg, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return QMsg{}, false
	}
	m := q.items[0]
	q.items = q.items[1:]
	return m, true
}

// taskDone marks one dequeued task finished.
func (q *taskQueue) taskDone() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending--
	if q.pending <= 0 {
		q.cond.Broadcast()
	}
}

// join blocks until every enqueued task is done or the queue closes.
func (q *taskQueue) join() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending > 0 && !q.closed {
		q.cond.Wait()
	}
}

// close drops queued tasks and releases all waiters.
func (q *taskQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
	q.cond.Broadcast()
}

// claimURL atomically claims a URL for fetching. It refuses URLs already
// claimed and, when max_pages is set, refuses once the claimed count passes
// the cap. The check and the insert share one critical section so no two
// workers ever fetch the same URL.
func (c *Crawler) claimURL(url string) bool {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	if _, ok := c.seen[url]; ok {
		return false
	}
	if c.settings.MaxPages > 0 && len(c.seen) > c.settings.MaxPages {
		return false
	}
	c.seen[url] = struct{}{}
	return true
}

// isSeen reports whether a URL has been claimed.
func (c *Crawler) isSeen(url string) bool {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	_, ok := c.seen[url]
	return ok
}

// unclaimURL releases a claim so a retry can fetch again.
func (c *Crawler) unclaimURL(url string) {
	c.seenMu.Lock()
	defer c.seenMu.Unlock()
	delete(c.seen, url)
}

// worker drains the queue until it closes.
func (c *Crawler) worker(ctx context.Context) {
	for {
		task, ok := c.queue.get()
		if !ok {
			return
		}
		c.processTask(ctx, task)
	}
}

// processTask runs the per-URL state machine: depth gate, claim, fetch,
// output, link fan-out. The task is always marked done on exit.
func (c *Crawler) processTask(ctx context.Context, task QMsg) {
	defer c.queue.taskDone()

	c.logger.Debug().Str("url", task.URL).Int("depth", task.Depth).Msg("Working on task")

	if task.Depth >= c.settings.MaxDepth {
		c.logger.Debug().Str("url", task.URL).Msg("Max depth reached")
		return
	}
	if !c.claimURL(task.URL) {
		return
	}

	res, links, err := c.crawlPage(ctx, task.URL)
	if err != nil {
		c.dispatchError(task, err)
		return
	}

	c.output(res)

	for _, link := range links {
		if c.isSeen(link) {
			continue
		}
		c.queue.put(QMsg{SourceURL: res.FinalURL, URL: link, Depth: task.Depth + 1})
	}
}

// dispatchError normalises a fetch failure. Invalid content types and
// already-fetched redirects are expected outcomes and stay silent; all
// others become error records keyed by their tag.
func (c *Crawler) dispatchError(task QMsg, err error) {
	var statusErr *StatusError

	switch {
	case errors.Is(err, context.Canceled):
		// Crawl cancelled mid-flight; not a URL outcome.
	case errors.Is(err, ErrInvalidContentType), errors.Is(err, ErrAlreadyFetched):
		// Silently ignored.
	case errors.Is(err, ErrTooManyRedirects):
		c.logErrorURL(task.URL, "too_many_redirects", fmt.Sprintf("Redirected too many times at url: %s", task.URL))
	case errors.Is(err, ErrInvalidEncoding):
		c.logErrorURL(task.URL, "invalid_encoding", fmt.Sprintf("Invalid compression or encoding at url: %s", task.URL))
	case IsTimeout(err):
		c.logErrorURL(task.URL, "timeout", fmt.Sprintf("Timeout: %s", task.URL))
		if c.settings.RetryErrors {
			c.retryTask(task)
		}
	case errors.As(err, &statusErr):
		if statusErr.Status > 499 {
			c.logErrorURL(task.URL, statusErr.Status, fmt.Sprintf("Server error at url: %s", task.URL))
		} else {
			c.logErrorURL(task.URL, statusErr.Status,
				fmt.Sprintf("Client error with status: %d at url: %s from %s", statusErr.Status, task.URL, task.SourceURL))
		}
	case IsConnectionError(err):
		c.logErrorURL(task.URL, "connection_error", fmt.Sprintf("Connection error at url: %s, skipping", task.URL))
		if c.settings.RetryErrors {
			c.retryTask(task)
		}
	default:
		c.logErrorURL(task.URL, "exception", fmt.Sprintf("Unhandled exception: %v", err))
	}
}

// retryTask releases the URL and requeues it with a bumped retry count,
// dropping the task once max_retries is exceeded.
func (c *Crawler) retryTask(task QMsg) {
	if task.RetryCount < c.settings.MaxRetries {
		c.unclaimURL(task.URL)
		c.queue.put(QMsg{
			SourceURL:  task.SourceURL,
			URL:        task.URL,
			Depth:      task.Depth,
			RetryCount: task.RetryCount + 1,
		})
	} else {
		c.logger.Error().Str("url", task.URL).Msg("Max retries exceeded")
	}
}

// errorTag renders an error code (symbolic tag or HTTP status) as a
// counter key.
func errorTag(code interface{}) string {
	switch v := code.(type) {
	case int:
		return strconv.Itoa(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
