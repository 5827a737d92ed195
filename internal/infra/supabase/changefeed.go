package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/trampoja/trampoja-api/internal/infra/observability"

	"go.uber.org/zap"
)

// ChangeFeed surfaces new rows of a table as they are inserted, polling
// PostgREST with a created_at cursor. It stands in for a realtime channel:
// one feed per (table, filter), subscribed on demand and stopped when the
// consumer goes away.
type ChangeFeed struct {
	client   *Client
	table    string
	filter   string // PostgREST column filter, e.g. "user_id=eq.<id>"
	interval time.Duration
	metrics  *observability.Metrics
	logger   *zap.Logger

	mu      sync.Mutex
	cursor  time.Time
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// feedRow is the minimal envelope every fed table carries.
type feedRow struct {
	CreatedAt time.Time `json:"created_at"`
}

// NewChangeFeed creates a feed over table rows matching filter. The filter
// may be empty to watch the whole table.
func NewChangeFeed(client *Client, table, filter string, interval time.Duration, metrics *observability.Metrics, logger *zap.Logger) *ChangeFeed {
	return &ChangeFeed{
		client:   client,
		table:    table,
		filter:   filter,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
		cursor:   time.Now().UTC(),
	}
}

// Subscribe starts polling and returns a channel of raw row payloads.
// The channel closes when Stop is called or ctx is cancelled.
// Subscribing twice on the same feed is a programming error.
func (f *ChangeFeed) Subscribe(ctx context.Context) (<-chan json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return nil, fmt.Errorf("change feed for %s already subscribed", f.table)
	}
	f.started = true

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})

	out := make(chan json.RawMessage, 32)
	go f.run(ctx, out)
	return out, nil
}

// Stop halts polling and closes the subscription channel. Safe to call more
// than once.
func (f *ChangeFeed) Stop() {
	f.mu.Lock()
	cancel := f.cancel
	done := f.done
	f.cancel = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

func (f *ChangeFeed) run(ctx context.Context, out chan<- json.RawMessage) {
	defer close(out)
	defer close(f.done)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.poll(ctx, out)
		}
	}
}

func (f *ChangeFeed) poll(ctx context.Context, out chan<- json.RawMessage) {
	f.metrics.IncrFeedPoll(f.table)

	f.mu.Lock()
	cursor := f.cursor
	f.mu.Unlock()

	path := fmt.Sprintf("%s?created_at=gt.%s&order=created_at.asc&limit=50",
		f.table, url.QueryEscape(cursor.Format(time.RFC3339Nano)))
	if f.filter != "" {
		path += "&" + f.filter
	}

	body, err := f.client.doGet(ctx, path)
	if err != nil {
		f.logger.Warn("change feed poll failed",
			zap.String("table", f.table),
			zap.Error(err),
		)
		return
	}
	if emptyBody(body) {
		return
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(body, &raws); err != nil {
		f.logger.Warn("change feed decode failed",
			zap.String("table", f.table),
			zap.Error(err),
		)
		return
	}

	for _, raw := range raws {
		var row feedRow
		if err := json.Unmarshal(raw, &row); err == nil && row.CreatedAt.After(cursor) {
			cursor = row.CreatedAt
		}

		select {
		case out <- raw:
		case <-ctx.Done():
			return
		default:
			f.logger.Warn("change feed consumer lagging, dropping row",
				zap.String("table", f.table),
			)
		}
	}

	f.mu.Lock()
	f.cursor = cursor
	f.mu.Unlock()
}
