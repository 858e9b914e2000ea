package displaytest

import (
	"bytes"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"
)

// LeakTimeout is how long Check waits for goroutines to wind down before
// reporting them.
var LeakTimeout = time.Second

// inspired by https://golang.org/src/runtime/debug/stack.go?s=587:606#L21
// stack returns a formatted stack trace of all goroutines.
// It calls runtime.Stack with a large enough buffer to capture the entire trace.
func stack() []byte {
	buf := make([]byte, 1024)
	for {
		n := runtime.Stack(buf, true)
		if n < len(buf) {
			return buf[:n]
		}
		buf = make([]byte, 2*len(buf))
	}
}

type goroutine struct {
	id    int
	name  string
	stack []byte
}

// Leaks remembers the goroutines alive when it was created.
type Leaks struct {
	name       string
	goroutines map[int]goroutine
}

// LeaksMonitor snapshots the running goroutines.
func LeaksMonitor(name string) Leaks {
	return Leaks{name, collectGoroutines()}
}

var regexpId = regexp.MustCompile(`^\s*goroutine\s*(\d+)`)

func collectGoroutines() map[int]goroutine {
	res := make(map[int]goroutine)
	stacks := bytes.Split(stack(), []byte{'\n', '\n'})

	for _, st := range stacks {
		lines := bytes.Split(st, []byte{'\n'})
		if len(lines) < 2 {
			panic("routine stack has less than two lines: " + string(st))
		}

		idMatches := regexpId.FindSubmatch(lines[0])
		if len(idMatches) < 2 {
			panic("no id found in goroutine stack's first line: " + string(lines[0]))
		}
		id, err := strconv.Atoi(string(idMatches[1]))
		if err != nil {
			panic("converting goroutine id to number error: " + err.Error())
		}
		if _, ok := res[id]; ok {
			panic("2 goroutines with same id: " + strconv.Itoa(id))
		}

		res[id] = goroutine{id, strings.TrimSpace(string(lines[1])), st}
	}
	return res
}

// Leaking returns the goroutines started since the snapshot that are still
// running, keyed by id.
func (l Leaks) Leaking() map[int]string {
	res := make(map[int]string)
	for id, gr := range collectGoroutines() {
		if _, ok := l.goroutines[id]; ok {
			continue
		}
		res[id] = gr.name + "\n" + string(gr.stack)
	}
	return res
}

// Check fails t if goroutines started since the snapshot are still running
// after LeakTimeout.
func (l Leaks) Check(t testing.TB) {
	t.Helper()

	deadline := time.Now().Add(LeakTimeout)
	for {
		leaking := l.Leaking()
		if len(leaking) == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Errorf("%s: %d goroutine leaks", l.name, len(leaking))
			for _, st := range leaking {
				t.Log(st)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}
