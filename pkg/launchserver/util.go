package launchserver

import (
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// writerLevel filters log events below a level before passing them to the
// underlying writer.
type writerLevel struct {
	w io.Writer
	l zerolog.Level
	m sync.Mutex
}

var _ zerolog.LevelWriter = (*writerLevel)(nil)

func newWriterLevel(w io.Writer, l zerolog.Level) *writerLevel {
	return &writerLevel{w: w, l: l}
}

func (wl *writerLevel) Write(p []byte) (n int, err error) {
	wl.m.Lock()
	defer wl.m.Unlock()
	return wl.w.Write(p)
}

func (wl *writerLevel) WriteLevel(l zerolog.Level, p []byte) (n int, err error) {
	if l >= wl.l {
		wl.m.Lock()
		defer wl.m.Unlock()
		return wl.w.Write(p)
	}
	return len(p), nil
}

type middlewares []func(http.Handler) http.Handler

func (ms *middlewares) Add(m func(http.Handler) http.Handler) *middlewares {
	*ms = append(*ms, m)
	return ms
}

func (ms *middlewares) Then(h http.Handler) http.Handler {
	for i := len(*ms) - 1; i >= 0; i-- {
		h = (*ms)[i](h)
	}
	return h
}
