package client

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

const DefaultTypewriterDelay = 15 * time.Millisecond

// Renderer receives the typing animation.
type Renderer interface {
	// Append shows one more character.
	Append(r rune)
	// Replace discards whatever was shown and shows text instead.
	Replace(text string)
}

// Typewriter decouples network delivery from display: pushed text is queued
// and drained one rune per tick. The drain goroutine exits when the queue is
// empty and is started again by the next Push.
type Typewriter struct {
	delay    time.Duration
	renderer Renderer

	mu       sync.Mutex
	queue    []rune
	running  bool
	finished bool
	stop     chan struct{}
	wg       sync.WaitGroup
}

func NewTypewriter(r Renderer, delay time.Duration) *Typewriter {
	if delay <= 0 {
		delay = DefaultTypewriterDelay
	}
	return &Typewriter{delay: delay, renderer: r, stop: make(chan struct{})}
}

func (t *Typewriter) Push(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished || text == "" {
		return
	}
	t.queue = append(t.queue, []rune(text)...)
	if !t.running {
		t.running = true
		t.wg.Add(1)
		go t.drain()
	}
}

func (t *Typewriter) drain() {
	defer t.wg.Done()
	ticker := time.NewTicker(t.delay)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
		}

		t.mu.Lock()
		if t.finished {
			t.mu.Unlock()
			return
		}
		if len(t.queue) == 0 {
			t.running = false
			t.mu.Unlock()
			return
		}
		r := t.queue[0]
		t.queue = t.queue[1:]
		t.renderer.Append(r)
		t.mu.Unlock()
	}
}

// Pending returns the number of queued runes not yet shown.
func (t *Typewriter) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

func (t *Typewriter) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

// Finish stops the animation, drops undisplayed runes and shows final. It
// returns how many runes were dropped. Later calls do nothing.
func (t *Typewriter) Finish(final string) int {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return 0
	}
	t.finished = true
	dropped := len(t.queue)
	t.queue = nil
	t.running = false
	close(t.stop)
	t.renderer.Replace(final)
	t.mu.Unlock()

	t.wg.Wait()
	return dropped
}

// WriterRenderer renders to a terminal-like writer. Replace only prints
// what is missing when the final text extends what was already shown.
type WriterRenderer struct {
	w     io.Writer
	shown strings.Builder
}

func NewWriterRenderer(w io.Writer) *WriterRenderer {
	return &WriterRenderer{w: w}
}

func (r *WriterRenderer) Append(c rune) {
	r.shown.WriteRune(c)
	fmt.Fprint(r.w, string(c))
}

func (r *WriterRenderer) Replace(text string) {
	shown := r.shown.String()
	if strings.HasPrefix(text, shown) {
		fmt.Fprint(r.w, text[len(shown):])
	} else {
		if shown != "" {
			fmt.Fprintln(r.w)
		}
		fmt.Fprint(r.w, text)
	}
	r.shown.Reset()
	r.shown.WriteString(text)
}

func (r *WriterRenderer) String() string {
	return r.shown.String()
}
