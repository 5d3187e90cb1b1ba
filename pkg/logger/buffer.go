package logger

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// RingBuffer keeps the most recent log lines in memory with a fixed capacity.
type RingBuffer struct {
	mu       sync.RWMutex
	entries  []string
	capacity int
	start    int
	count    int
}

func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = 1000
	}
	return &RingBuffer{capacity: capacity, entries: make([]string, capacity)}
}

func (b *RingBuffer) Append(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count < b.capacity {
		b.entries[(b.start+b.count)%b.capacity] = line
		b.count++
		return
	}
	b.entries[b.start] = line
	b.start = (b.start + 1) % b.capacity
}

// GetLast returns up to n lines, oldest first. n <= 0 returns everything.
func (b *RingBuffer) GetLast(n int) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.count == 0 {
		return []string{}
	}
	if n <= 0 || n > b.count {
		n = b.count
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = b.entries[(b.start+b.count-n+i)%b.capacity]
	}
	return out
}

// Filter returns up to n of the most recent lines containing substr.
func (b *RingBuffer) Filter(substr string, n int) []string {
	all := b.GetLast(0)
	var out []string
	for i := len(all) - 1; i >= 0; i-- {
		if strings.Contains(all[i], substr) {
			out = append(out, all[i])
			if n > 0 && len(out) == n {
				break
			}
		}
	}
	// restore oldest-first order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (b *RingBuffer) Capacity() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.capacity
}

func (b *RingBuffer) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// bufferingHandler tees records to next and renders a one-line copy into buffer.
type bufferingHandler struct {
	next   slog.Handler
	buffer *RingBuffer
	opts   slog.HandlerOptions
	group  string
	attrs  string
}

func newBufferingHandler(next slog.Handler, buffer *RingBuffer, opts *slog.HandlerOptions) slog.Handler {
	var o slog.HandlerOptions
	if opts != nil {
		o = *opts
	}
	return &bufferingHandler{next: next, buffer: buffer, opts: o}
}

func (h *bufferingHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h *bufferingHandler) Handle(ctx context.Context, r slog.Record) error {
	var sb strings.Builder
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	sb.WriteString(ts.Format(time.RFC3339))
	sb.WriteByte(' ')
	sb.WriteString(r.Level.String())
	sb.WriteByte(' ')
	sb.WriteString(r.Message)
	sb.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&sb, h.group, a)
		return true
	})
	h.buffer.Append(sb.String())
	return h.next.Handle(ctx, r)
}

func (h *bufferingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var sb strings.Builder
	sb.WriteString(h.attrs)
	for _, a := range attrs {
		writeAttr(&sb, h.group, a)
	}
	return &bufferingHandler{next: h.next.WithAttrs(attrs), buffer: h.buffer, opts: h.opts, group: h.group, attrs: sb.String()}
}

func (h *bufferingHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &bufferingHandler{next: h.next.WithGroup(name), buffer: h.buffer, opts: h.opts, group: group, attrs: h.attrs}
}

func writeAttr(sb *strings.Builder, group string, a slog.Attr) {
	sb.WriteByte(' ')
	if group != "" {
		sb.WriteString(group)
		sb.WriteByte('.')
	}
	sb.WriteString(a.Key)
	sb.WriteByte('=')
	sb.WriteString(a.Value.String())
}
