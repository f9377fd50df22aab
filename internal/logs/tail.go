package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	fieldPrefix  = "    - "
	pollInterval = 250 * time.Millisecond
)

// TailOptions selects which entries to read. A negative Offset reads the
// last Limit entries; otherwise reading starts at Offset. With Follow set
// and nothing new, Tail waits up to Wait for more.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	Filter Filter
}

// Entry is one log record.
type Entry struct {
	Lines []string
}

func (e Entry) String() string {
	return strings.Join(e.Lines, "\n")
}

// TailResult holds matching entries and the offset to resume from.
type TailResult struct {
	Entries []Entry
	Offset  int64
}

// Tail reads entries from the log file at path. A missing file yields no
// entries and offset zero.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return TailResult{}, nil
		}
		return TailResult{Offset: opts.Offset}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return TailResult{Offset: opts.Offset}, fmt.Errorf("log path %q is a directory", path)
	}
	opts.Wait = max(opts.Wait, 0)

	var result TailResult
	if opts.Offset < 0 {
		entries, offset, err := readEntries(path, 0, opts.Filter)
		if err != nil {
			return TailResult{}, err
		}
		result = TailResult{Entries: lastN(entries, opts.Limit), Offset: offset}
	} else {
		offset := opts.Offset
		if offset > info.Size() {
			offset = info.Size()
		}
		entries, next, err := readEntries(path, offset, opts.Filter)
		if err != nil {
			return TailResult{Offset: offset}, err
		}
		result = TailResult{Entries: entries, Offset: next}
	}

	if opts.Follow && opts.Wait > 0 && len(result.Entries) == 0 {
		return waitForEntries(ctx, path, result.Offset, opts.Wait, opts.Filter)
	}
	return result, nil
}

func lastN(entries []Entry, n int) []Entry {
	if n <= 0 {
		return nil
	}
	if len(entries) > n {
		return entries[len(entries)-n:]
	}
	return entries
}

// readEntries scans from offset to the end of the file. A trailing partial
// line is left for the next read.
func readEntries(path string, offset int64, filter Filter) ([]Entry, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	var (
		entries []Entry
		current []string
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		entry := Entry{Lines: current}
		if filter.Matches(entry) {
			entries = append(entries, entry)
		}
		current = nil
	}
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, fieldPrefix) && len(current) > 0 {
			current = append(current, line)
			continue
		}
		flush()
		if line != "" {
			current = []string{line}
		}
	}
	flush()
	return entries, offset, nil
}

func waitForEntries(ctx context.Context, path string, offset int64, wait time.Duration, filter Filter) (TailResult, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		entries, next, err := readEntries(path, offset, filter)
		if err != nil {
			return TailResult{Offset: offset}, err
		}
		offset = next
		if len(entries) > 0 || time.Now().After(deadline) {
			return TailResult{Entries: entries, Offset: offset}, nil
		}
		select {
		case <-ctx.Done():
			return TailResult{Offset: offset}, ctx.Err()
		case <-ticker.C:
		}
	}
}
