// Package poller runs the refresh-states long-poll loop. Events it
// receives are kept in a bounded ring for getEvents and handed to the
// script through the dispatch loop, never by calling the engine directly.
package poller

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fixkme/plua/ds/staticlist"
	g "github.com/fixkme/plua/framework/go"
	"github.com/fixkme/plua/mlog"
	"github.com/rs/xid"
	"github.com/tidwall/gjson"
)

const (
	MaxEvents       = 1000
	DefaultInterval = time.Second
	DefaultTimeout  = 30 * time.Second
	maxRetries      = 5
)

type record struct {
	last  int64
	event string // raw JSON
}

type Options struct {
	Headers  map[string]string
	Interval time.Duration
	Timeout  time.Duration
}

type Status struct {
	Running bool              `json:"running"`
	URL     string            `json:"url,omitempty"`
	Start   int64             `json:"start,omitempty"`
	Last    int64             `json:"last,omitempty"`
	Options map[string]string `json:"options,omitempty"`
}

type Poller struct {
	submit g.SubmitFunc

	mu       sync.Mutex
	events   *staticlist.Queue[record]
	count    int64
	callback int64 // 0 means no script receiver yet

	url     string
	start   int64
	last    int64
	opts    Options
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func New(submit g.SubmitFunc) *Poller {
	return &Poller{
		submit: submit,
		events: staticlist.NewQueue[record](MaxEvents),
	}
}

// SetCallback names the script callback that receives each event.
func (p *Poller) SetCallback(id int64) {
	p.mu.Lock()
	p.callback = id
	p.mu.Unlock()
}

func (p *Poller) Callback() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.callback
}

// AddEvent stores a raw JSON event, dropping the oldest when the ring is
// full, and forwards it to the script callback if one is set. It returns
// the event's counter.
func (p *Poller) AddEvent(event string) int64 {
	p.mu.Lock()
	p.count++
	n := p.count
	if p.events.IsFull() {
		p.events.Pop()
	}
	p.events.Push(record{last: n, event: event})
	cb := p.callback
	p.mu.Unlock()

	if cb != 0 && p.submit != nil {
		if err := p.submit(g.CallbackEvent(cb, event)); err != nil {
			mlog.Warnf("refresh event %d not delivered: %v", n, err)
		}
	}
	return n
}

// Events returns the events newer than counter and the newest counter held.
func (p *Poller) Events(counter int64) ([]string, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var (
		out  []string
		last int64
	)
	p.events.Range(func(r *record) bool {
		last = r.last
		if r.last > counter {
			out = append(out, r.event)
		}
		return true
	})
	return out, last
}

func (p *Poller) Count() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

// Start begins polling url, replacing any loop already running. url is
// used as a prefix; the current last counter is appended to it.
func (p *Poller) Start(start int64, url string, opts Options) {
	p.Stop()
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	p.mu.Lock()
	p.url, p.start, p.last, p.opts = url, start, start, opts
	p.cancel, p.done, p.running = cancel, done, true
	p.mu.Unlock()

	client := &http.Client{Timeout: opts.Timeout}
	go func() {
		defer close(done)
		p.loop(ctx, client)
		p.mu.Lock()
		if p.done == done {
			p.running = false
		}
		p.mu.Unlock()
	}()
	mlog.Infof("refresh states polling started at %d", start)
}

// Stop ends the loop and waits for it. It reports whether one was running.
func (p *Poller) Stop() bool {
	p.mu.Lock()
	cancel, done, running := p.cancel, p.done, p.running
	p.cancel, p.done, p.running = nil, nil, false
	p.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	<-done
	return running
}

func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		return Status{}
	}
	return Status{
		Running: p.running,
		URL:     p.url,
		Start:   p.start,
		Last:    p.last,
		Options: p.opts.Headers,
	}
}

func (p *Poller) loop(ctx context.Context, client *http.Client) {
	p.mu.Lock()
	base, last, opts := p.url, p.last, p.opts
	p.mu.Unlock()

	retries := 0
	for {
		next, err := p.pollOnce(ctx, client, base, last, opts.Headers)
		switch {
		case err == nil:
			retries = 0
			last = next
			p.mu.Lock()
			p.last = last
			p.mu.Unlock()
		case ctx.Err() != nil:
			return
		case errors.Is(err, errUnauthorized):
			mlog.Errorf("refresh states credentials rejected, exiting loop")
			return
		case isTimeout(err):
		case isConnError(err):
			retries++
			if retries > maxRetries {
				mlog.Errorf("refresh states connection error: %v, exiting loop", err)
				return
			}
		default:
			mlog.Warnf("refresh states: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(opts.Interval):
		}
	}
}

var (
	errUnauthorized = errors.New("unauthorized")
	errInvalidEvent = errors.New("event is not valid JSON")
)

func (p *Poller) pollOnce(ctx context.Context, client *http.Client, base string, last int64, headers map[string]string) (int64, error) {
	u := base + strconv.FormatInt(last, 10) + "&lang=en&rand=" + xid.New().String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return last, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return last, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return last, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return last, errUnauthorized
	default:
		mlog.Debugf("refresh states status %d", resp.StatusCode)
		return last, nil
	}

	if !gjson.ValidBytes(body) {
		return last, errors.New("invalid refresh states response")
	}
	doc := gjson.ParseBytes(body)
	if v := doc.Get("last"); v.Exists() {
		last = v.Int()
	}
	doc.Get("events").ForEach(func(_, ev gjson.Result) bool {
		p.AddEvent(ev.Raw)
		return true
	})
	return last, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func isConnError(err error) bool {
	var oe *net.OpError
	return errors.As(err, &oe)
}
