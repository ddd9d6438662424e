package logger

import (
	"bufio"
	"os"
	"sync"
	"time"

	"github.com/tphakala/twsaudio/internal/errors"
)

const (
	logFileBufferSize  = 16 * 1024
	logFilePermissions = 0o600
	// DefaultFlushDelay bounds how long a record may sit in the buffer
	DefaultFlushDelay = 2 * time.Second
)

var errLogFileClosed = errors.NewStd("log file is closed")

// LogFile is a buffered, append-only log file. The first write after a
// flush arms a one-shot timer so that a quiet device still gets its last
// records on disk without a background goroutine.
type LogFile struct {
	mu    sync.Mutex
	path  string
	file  *os.File
	buf   *bufio.Writer
	delay time.Duration
	timer *time.Timer
}

// OpenLogFile opens path for appending. A delay of zero disables the
// timed flush; records then reach the file on Flush, Close or when the
// buffer fills.
func OpenLogFile(path string, delay time.Duration) (*LogFile, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermissions) //nolint:gosec // path comes from config
	if err != nil {
		return nil, errors.New(err).
			Component("logger").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return &LogFile{
		path:  path,
		file:  file,
		buf:   bufio.NewWriterSize(file, logFileBufferSize),
		delay: delay,
	}, nil
}

// Write buffers p
func (f *LogFile) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buf == nil {
		return 0, errLogFileClosed
	}
	n, err := f.buf.Write(p)
	if f.delay > 0 && f.timer == nil && f.buf.Buffered() > 0 {
		f.timer = time.AfterFunc(f.delay, f.timedFlush)
	}
	return n, err
}

func (f *LogFile) timedFlush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timer = nil
	if f.buf != nil {
		_ = f.buf.Flush() // surfaces on the next Write or Flush
	}
}

// Flush hands buffered records to the OS
func (f *LogFile) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buf == nil {
		return nil
	}
	f.stopTimer()
	return f.buf.Flush()
}

// Close flushes, syncs and closes the file. Repeated calls return nil.
func (f *LogFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buf == nil {
		return nil
	}
	f.stopTimer()
	err := errors.Join(f.buf.Flush(), f.file.Sync(), f.file.Close())
	f.buf = nil
	f.file = nil
	return err
}

// Buffered returns the number of bytes not yet written to the file
func (f *LogFile) Buffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buf == nil {
		return 0
	}
	return f.buf.Buffered()
}

// Path returns the file path
func (f *LogFile) Path() string { return f.path }

func (f *LogFile) stopTimer() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}
