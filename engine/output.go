package engine

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fixkme/plua/ds/staticlist"
	"github.com/fixkme/plua/htmlconv"
	lua "github.com/yuin/gopher-lua"
)

// DefaultOutputLines bounds the print buffer; the oldest lines go first.
const DefaultOutputLines = 10000

// output keeps what scripts print. The buffer is read from other
// goroutines (the HTTP API), the terminal side only from the engine's.
type output struct {
	mu    sync.Mutex
	lines *staticlist.Queue[string]

	w       io.Writer
	conv    *htmlconv.Converter
	webMode bool
}

func newOutput(w io.Writer, limit int) *output {
	if limit <= 0 {
		limit = DefaultOutputLines
	}
	return &output{
		lines: staticlist.NewQueue[string](limit),
		w:     w,
		conv:  htmlconv.New(w),
	}
}

func (o *output) add(line string) {
	o.mu.Lock()
	if o.lines.IsFull() {
		o.lines.Pop()
	}
	o.lines.Push(line)
	web := o.webMode
	o.mu.Unlock()

	if web || o.w == nil {
		return
	}
	if htmlconv.HasHTML(line) {
		line = o.conv.ToConsole(line)
	}
	fmt.Fprintln(o.w, line)
}

func (o *output) setWebMode(on bool) {
	o.mu.Lock()
	o.webMode = on
	o.mu.Unlock()
}

// take returns the buffered lines joined by newlines and empties the buffer.
func (o *output) take() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var b strings.Builder
	first := true
	o.lines.PopRange(func(line *string) bool {
		if !first {
			b.WriteByte('\n')
		}
		first = false
		b.WriteString(*line)
		return true
	})
	return b.String()
}

func (o *output) clear() {
	o.mu.Lock()
	o.lines.Clear()
	o.mu.Unlock()
}

// luaPrint replaces the global print: arguments are joined by single
// spaces, buffered, and echoed to the terminal unless in web mode.
func (e *Engine) luaPrint(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	e.out.add(strings.Join(parts, " "))
	return 0
}
