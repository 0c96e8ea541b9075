// Package downloader places remote files on disk, using a single request for
// small files and parallel byte-range chunks for large ones.
package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/team-ns/launcher/pkg/api"
	"github.com/team-ns/launcher/pkg/launcher/host"
)

const (
	// smallSizeMax is the largest file (inclusive) fetched with one request.
	smallSizeMax = 1_048_576
	// chunkSize is the byte-range length used for large files.
	chunkSize = 512_000
	// smallParallelism bounds concurrent small-file downloads.
	smallParallelism = 100
)

// Task names a destination path and the file expected there.
type Task struct {
	Path string
	File api.RemoteFile
}

// Chunks partitions size bytes into ranges of chunkSize; the last range's
// end is clamped to size-1.
func Chunks(size int64) [][2]int64 {
	var chunks [][2]int64
	for start := int64(0); start < size; start += chunkSize {
		end := start + chunkSize - 1
		if end > size-1 {
			end = size - 1
		}
		chunks = append(chunks, [2]int64{start, end})
	}
	return chunks
}

// Download places every task's file on disk, reporting cumulative progress
// through events. The first error cancels the remaining work; partial files
// are left on disk for the validator to catch.
func Download(ctx context.Context, httpc *http.Client, tasks []Task, events host.Events) error {
	if httpc == nil {
		httpc = http.DefaultClient
	}

	var total int64
	for _, t := range tasks {
		total += t.File.Size
	}
	events.DownloadTotal(total)

	progress := make(chan int64, 256)
	reporterDone := make(chan struct{})
	go func() {
		defer close(reporterDone)
		var received int64
		for n := range progress {
			received += n
			events.DownloadProgress(received, total)
			if received == total {
				events.DownloadWait()
			}
		}
	}()

	var small, large []Task
	for _, t := range tasks {
		if t.File.Size <= smallSizeMax {
			small = append(small, t)
		} else {
			large = append(large, t)
		}
	}

	err := func() error {
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(smallParallelism)
		for _, t := range small {
			t := t
			g.Go(func() error {
				return downloadSmall(ctx, httpc, t, progress)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for _, t := range large {
			if err := downloadChunked(ctx, httpc, t, progress); err != nil {
				return err
			}
		}
		return nil
	}()

	close(progress)
	<-reporterDone
	return err
}

// downloadSmall streams the whole body to disk with one request.
func downloadSmall(ctx context.Context, httpc *http.Client, t Task, progress chan<- int64) error {
	f, err := createFile(t.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.File.Uri, nil)
	if err != nil {
		return fmt.Errorf("create request for %s: %w", t.File.Uri, err)
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", t.File.Uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("can't download %s, status code %d", t.File.Uri, resp.StatusCode)
	}

	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write %s: %w", t.Path, werr)
			}
			progress <- int64(n)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", t.File.Uri, err)
		}
	}
}

type chunk struct {
	off  int64
	data []byte
}

// downloadChunked fetches byte ranges in parallel; a single coordinator
// goroutine owns the file handle and writes each chunk at its offset. The
// file is complete when the written byte count reaches the size.
func downloadChunked(ctx context.Context, httpc *http.Client, t Task, progress chan<- int64) error {
	f, err := createFile(t.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	chunks := make(chan chunk, 16)
	g, ctx := errgroup.WithContext(ctx)

	fg, fctx := errgroup.WithContext(ctx)
	for _, r := range Chunks(t.File.Size) {
		r := r
		fg.Go(func() error {
			return fetchRange(fctx, httpc, t.File.Uri, r, chunks)
		})
	}
	go func() {
		fg.Wait()
		close(chunks)
	}()

	g.Go(func() error {
		var received int64
		for c := range chunks {
			if _, err := f.WriteAt(c.data, c.off); err != nil {
				return fmt.Errorf("write %s: %w", t.Path, err)
			}
			received += int64(len(c.data))
			progress <- int64(len(c.data))
		}
		if err := fg.Wait(); err != nil {
			return err
		}
		if received != t.File.Size {
			return fmt.Errorf("downloaded %d of %d bytes of %s", received, t.File.Size, t.Path)
		}
		return nil
	})
	return g.Wait()
}

func fetchRange(ctx context.Context, httpc *http.Client, uri string, r [2]int64, out chan<- chunk) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("create request for %s: %w", uri, err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", r[0], r[1]))
	req.Header.Set("Connection", "keep-alive")

	resp, err := httpc.Do(req)
	if err != nil {
		return fmt.Errorf("get %s: %w", uri, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("can't download %s, status code %d", uri, resp.StatusCode)
	}

	off := r[0]
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case out <- chunk{off: off, data: data}:
			case <-ctx.Done():
				return ctx.Err()
			}
			off += int64(n)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", uri, err)
		}
	}
}

// createFile creates the parent directory and replaces any existing file.
func createFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	return f, nil
}
