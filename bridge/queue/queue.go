package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// opResult carries a BotClient call's outcome back to a waiting caller.
type opResult struct {
	messageID int
	updates   []tgbotapi.Update
	err       error
}

// queuedOp is one dispatcher-scheduled unit of work.
type queuedOp struct {
	ctx       context.Context
	chatID    int64
	notBefore time.Time
	exec      func(ctx context.Context) opResult
	resultCh  chan opResult // nil for fire-and-forget (wait=false) LOW edits
}

type lowKey struct {
	chatID    int64
	messageID int
}

// chatQueue is the per-chat dispatcher: a HIGH FIFO that always drains
// first, and a LOW coalescing map keyed by (chatID, messageID) where only
// the newest pending entry per key survives.
type chatQueue struct {
	mu       sync.Mutex
	high     []*queuedOp
	low      map[lowKey]*queuedOp
	lowOrder []lowKey
	wake     chan struct{}
	running  bool
}

func newChatQueue() *chatQueue {
	return &chatQueue{
		low:  make(map[lowKey]*queuedOp),
		wake: make(chan struct{}, 1),
	}
}

func (q *chatQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// enqueueHigh appends to the HIGH FIFO.
func (q *chatQueue) enqueueHigh(op *queuedOp) {
	q.mu.Lock()
	q.high = append(q.high, op)
	q.mu.Unlock()
	q.signal()
}

// enqueueLow coalesces op into the LOW slot for key, superseding (and
// notifying, if anyone is waiting on it) any prior pending entry.
func (q *chatQueue) enqueueLow(key lowKey, op *queuedOp) {
	q.mu.Lock()
	if existing, ok := q.low[key]; ok {
		supersede(existing)
	} else {
		q.lowOrder = append(q.lowOrder, key)
	}
	q.low[key] = op
	q.mu.Unlock()
	q.signal()
}

// dropLow purges any pending LOW edit for key without running it — used
// by DeleteMessage (invariant I7: delete purges pending LOW edits first).
func (q *chatQueue) dropLow(key lowKey) {
	q.mu.Lock()
	if existing, ok := q.low[key]; ok {
		supersede(existing)
		delete(q.low, key)
		for i, k := range q.lowOrder {
			if k == key {
				q.lowOrder = append(q.lowOrder[:i], q.lowOrder[i+1:]...)
				break
			}
		}
	}
	q.mu.Unlock()
}

func supersede(op *queuedOp) {
	if op.resultCh != nil {
		select {
		case op.resultCh <- opResult{err: ErrSuperseded}:
		default:
		}
	}
}

// next pops the next ready op (HIGH first, then the oldest ready LOW key),
// or reports how long to wait before a LOW op becomes ready, or that the
// queue is fully drained.
func (q *chatQueue) next() (op *queuedOp, wait time.Duration, drained bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.high) > 0 {
		op = q.high[0]
		q.high = q.high[1:]
		return op, 0, false
	}

	if len(q.lowOrder) == 0 {
		return nil, 0, true
	}

	now := time.Now()
	var earliest time.Time
	for i, key := range q.lowOrder {
		entry := q.low[key]
		if entry.notBefore.IsZero() || !entry.notBefore.After(now) {
			q.lowOrder = append(q.lowOrder[:i], q.lowOrder[i+1:]...)
			delete(q.low, key)
			return entry, 0, false
		}
		if earliest.IsZero() || entry.notBefore.Before(earliest) {
			earliest = entry.notBefore
		}
	}
	return nil, time.Until(earliest), false
}

// QueuedTelegramClient is the single point every outbound Telegram call
// passes through. One dispatcher goroutine runs per chat with pending
// work, exiting once its queue drains.
type QueuedTelegramClient struct {
	bot BotClient

	sleep func(ctx context.Context, d time.Duration)

	privateRPS float64
	groupRPS   float64

	mu       sync.Mutex
	queues   map[int64]*chatQueue
	limiters map[int64]*rate.Limiter
}

// ClientOption configures a QueuedTelegramClient at construction time.
type ClientOption func(*QueuedTelegramClient)

// WithSleepFunc overrides the function used to wait out a retry_after
// delay — tests use this to observe and skip the real delay.
func WithSleepFunc(f func(ctx context.Context, d time.Duration)) ClientOption {
	return func(c *QueuedTelegramClient) { c.sleep = f }
}

// NewQueuedTelegramClient wraps bot with per-chat HIGH/LOW queuing, rate
// limiting (privateChatRPS/groupChatRPS; <= 0 disables limiting for that
// chat class), and single-retry retry_after handling. Chats with a
// negative ID (Telegram's convention for groups/supergroups) use
// groupChatRPS; all others use privateChatRPS.
func NewQueuedTelegramClient(bot BotClient, privateChatRPS, groupChatRPS float64, opts ...ClientOption) *QueuedTelegramClient {
	c := &QueuedTelegramClient{
		bot:        bot,
		privateRPS: privateChatRPS,
		groupRPS:   groupChatRPS,
		queues:     make(map[int64]*chatQueue),
		limiters:   make(map[int64]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sleep == nil {
		c.sleep = func(ctx context.Context, d time.Duration) {
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		}
	}
	return c
}

func (c *QueuedTelegramClient) queueFor(chatID int64) *chatQueue {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.queues[chatID]
	if !ok {
		q = newChatQueue()
		c.queues[chatID] = q
	}
	if !q.running {
		q.running = true
		go c.run(chatID, q)
	}
	return q
}

func (c *QueuedTelegramClient) limiterFor(chatID int64) *rate.Limiter {
	rps := c.privateRPS
	if chatID < 0 {
		rps = c.groupRPS
	}
	if rps <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.limiters[chatID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(rps), 1)
		c.limiters[chatID] = l
	}
	return l
}

func (c *QueuedTelegramClient) run(chatID int64, q *chatQueue) {
	for {
		op, wait, drained := q.next()
		if drained {
			q.mu.Lock()
			q.running = false
			q.mu.Unlock()
			return
		}
		if op == nil {
			select {
			case <-q.wake:
			case <-time.After(wait):
			}
			continue
		}

		if limiter := c.limiterFor(chatID); limiter != nil {
			_ = limiter.Wait(op.ctx)
		}

		result := op.exec(op.ctx)
		var retry *RetryAfterError
		if errors.As(result.err, &retry) {
			c.sleep(op.ctx, time.Duration(retry.Seconds*float64(time.Second)))
			result = op.exec(op.ctx)
		}
		if op.resultCh != nil {
			op.resultCh <- result
		}
	}
}

// SendMessage always runs HIGH priority and blocks until sent.
func (c *QueuedTelegramClient) SendMessage(ctx context.Context, req SendMessageRequest) (SentMessage, error) {
	req.Priority = PriorityHigh
	resultCh := make(chan opResult, 1)
	op := &queuedOp{
		ctx:       ctx,
		chatID:    req.ChatID,
		notBefore: req.NotBefore,
		resultCh:  resultCh,
		exec: func(ctx context.Context) opResult {
			sent, err := c.bot.SendMessage(ctx, req)
			return opResult{messageID: sent.MessageID, err: err}
		},
	}
	c.queueFor(req.ChatID).enqueueHigh(op)
	return awaitResult(ctx, resultCh)
}

// EditMessageText enqueues a message edit. LOW-priority edits to the same
// (chatID, messageID) coalesce: only the latest survives to run. wait
// controls whether the call blocks for the result; LOW progress edits
// typically pass wait=false.
func (c *QueuedTelegramClient) EditMessageText(ctx context.Context, req EditMessageRequest, wait bool) (SentMessage, error) {
	var resultCh chan opResult
	if wait {
		resultCh = make(chan opResult, 1)
	}
	op := &queuedOp{
		ctx:       ctx,
		chatID:    req.ChatID,
		notBefore: req.NotBefore,
		resultCh:  resultCh,
		exec: func(ctx context.Context) opResult {
			sent, err := c.bot.EditMessageText(ctx, req)
			return opResult{messageID: sent.MessageID, err: err}
		},
	}

	q := c.queueFor(req.ChatID)
	if req.Priority == PriorityLow {
		q.enqueueLow(lowKey{chatID: req.ChatID, messageID: req.MessageID}, op)
	} else {
		q.enqueueHigh(op)
	}

	if !wait {
		return SentMessage{}, nil
	}
	return awaitResult(ctx, resultCh)
}

// DeleteMessage purges any pending LOW edit for (chatID, messageID) before
// running the delete itself at HIGH priority (invariant I7).
func (c *QueuedTelegramClient) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	q := c.queueFor(chatID)
	q.dropLow(lowKey{chatID: chatID, messageID: messageID})

	resultCh := make(chan opResult, 1)
	op := &queuedOp{
		ctx:      ctx,
		chatID:   chatID,
		resultCh: resultCh,
		exec: func(ctx context.Context) opResult {
			return opResult{err: c.bot.DeleteMessage(ctx, chatID, messageID)}
		},
	}
	q.enqueueHigh(op)
	_, err := awaitResult(ctx, resultCh)
	return err
}

// SetMyCommands runs HIGH priority against chatID's queue (chatID 0 for
// the bot-wide default scope).
func (c *QueuedTelegramClient) SetMyCommands(ctx context.Context, chatID int64, commands []tgbotapi.BotCommand) error {
	resultCh := make(chan opResult, 1)
	op := &queuedOp{
		ctx:      ctx,
		chatID:   chatID,
		resultCh: resultCh,
		exec: func(ctx context.Context) opResult {
			return opResult{err: c.bot.SetMyCommands(ctx, commands)}
		},
	}
	c.queueFor(chatID).enqueueHigh(op)
	_, err := awaitResult(ctx, resultCh)
	return err
}

// GetUpdates bypasses per-chat queuing entirely (it isn't chat-scoped) but
// shares the same single-retry retry_after handling.
func (c *QueuedTelegramClient) GetUpdates(ctx context.Context, offset, timeoutSeconds int) ([]tgbotapi.Update, error) {
	updates, err := c.bot.GetUpdates(ctx, offset, timeoutSeconds)
	var retry *RetryAfterError
	if errors.As(err, &retry) {
		c.sleep(ctx, time.Duration(retry.Seconds*float64(time.Second)))
		updates, err = c.bot.GetUpdates(ctx, offset, timeoutSeconds)
	}
	return updates, err
}

// GetMe passes through directly; it's called once at startup, not worth
// queuing.
func (c *QueuedTelegramClient) GetMe(ctx context.Context) (tgbotapi.User, error) {
	return c.bot.GetMe(ctx)
}

// Close releases the underlying BotClient. Pending queued operations are
// abandoned.
func (c *QueuedTelegramClient) Close() error {
	return c.bot.Close()
}

func awaitResult(ctx context.Context, ch chan opResult) (SentMessage, error) {
	if ch == nil {
		return SentMessage{}, nil
	}
	select {
	case r := <-ch:
		return SentMessage{MessageID: r.messageID}, r.err
	case <-ctx.Done():
		return SentMessage{}, ctx.Err()
	}
}
