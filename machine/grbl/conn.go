package grbl

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"log/slog"
	"sync"
)

// DefaultBufferSize is the receive buffer of a stock Grbl build.
const DefaultBufferSize = 128

// ErrGrblReset will be returned from write methods if a reset is encountered
// before all commands are run.
var ErrGrblReset = errors.New("grbl reset")

// rxWindow tracks how much of the controller's receive buffer is held by
// lines that have not been answered yet.
type rxWindow struct {
	size     int
	used     int
	inflight []string

	sent, answered int64
}

// fits reports whether n more bytes can be sent. A line longer than the
// whole buffer is let through once nothing else is outstanding.
func (w *rxWindow) fits(n int) bool {
	return w.used+n <= w.size || len(w.inflight) == 0
}

func (w *rxWindow) push(line string) int64 {
	w.used += len(line)
	w.inflight = append(w.inflight, line)
	w.sent++
	return w.sent
}

func (w *rxWindow) pop() string {
	line := w.inflight[0]
	w.inflight = w.inflight[1:]
	w.used -= len(line)
	w.answered++
	return line
}

func (w *rxWindow) reset() {
	w.used = 0
	w.inflight = nil
	w.answered = w.sent
}

// Conn streams lines to a Grbl controller using the character counting
// protocol: a line is written only once it fits in the controller's
// receive buffer, and its space is reclaimed by the matching ok or error.
//
// Read must be called continuously by one goroutine to collect answers.
type Conn struct {
	rw      io.ReadWriter
	log     *slog.Logger
	onAlarm func(Alarm)

	rx      rxWindow
	readBuf []byte
	scan    *bufio.Scanner

	answers chan response
	resets  chan struct{}
	closed  chan struct{}

	portMx    sync.Mutex
	streamMx  sync.Mutex
	closeOnce sync.Once
}

type response struct{ code int }

// ConnOption configures a Conn.
type ConnOption func(*Conn)

// WithBufferSize sets the controller receive buffer size.
func WithBufferSize(n int) ConnOption {
	return func(c *Conn) {
		if n > 0 {
			c.rx.size = n
		}
	}
}

// WithConnLogger logs rejected lines and controller resets.
func WithConnLogger(log *slog.Logger) ConnOption {
	return func(c *Conn) {
		if log != nil {
			c.log = log
		}
	}
}

// WithAlarmHandler calls fn from the reading goroutine for every alarm
// the controller reports.
func WithAlarmHandler(fn func(Alarm)) ConnOption {
	return func(c *Conn) { c.onAlarm = fn }
}

// NewConn creates a new Conn using the provided ReadWriter for data.
func NewConn(rw io.ReadWriter, opts ...ConnOption) *Conn {
	c := &Conn{
		rw:      rw,
		log:     slog.New(slog.DiscardHandler),
		rx:      rxWindow{size: DefaultBufferSize},
		scan:    bufio.NewScanner(rw),
		answers: make(chan response),
		resets:  make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Close will abort any in-progress writes and close the
// underlying ReadWriter, if it implements io.Closer.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	if closer, ok := c.rw.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *Conn) handleReset() error {
	if n := len(c.rx.inflight); n > 0 {
		c.log.Warn("controller reset with lines outstanding", "lines", n)
	}
	c.rx.reset()
	return ErrGrblReset
}

// next waits for one answer. A pending reset wins over answers.
func (c *Conn) next() error {
	if c.isClosed() {
		return io.ErrClosedPipe
	}
	select {
	case <-c.resets:
		return c.handleReset()
	default:
	}

	select {
	case <-c.closed:
		return io.ErrClosedPipe
	case <-c.resets:
		return c.handleReset()
	case r := <-c.answers:
		line := c.rx.pop()
		if r.code == 0 {
			return nil
		}
		err := &Error{Code: r.code, Line: line}
		c.log.Warn("line rejected", "line", err.Line, "code", err.Code, "reason", err.Description())
		return err
	}
}

// waitFor waits until line id was answered and returns the first error
// seen on the way.
func (c *Conn) waitFor(id int64) (err error) {
	for c.rx.answered < id {
		e := c.next()
		if errors.Is(e, io.ErrClosedPipe) {
			return e
		}
		if err == nil {
			err = e
		}
	}
	return err
}

func (c *Conn) send(line []byte) (id int64, err error) {
	for !c.rx.fits(len(line)) {
		if err = c.next(); err != nil {
			return 0, err
		}
	}
	c.portMx.Lock()
	_, err = c.rw.Write(line)
	c.portMx.Unlock()
	if err != nil {
		return 0, err
	}
	return c.rx.push(string(line)), nil
}

func splitLinesKeepN(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, data[:i+1], nil
	}
	if atEOF {
		return len(data), data, io.ErrUnexpectedEOF
	}
	return 0, nil, nil
}

// ReadFrom returns after all lines have been sent and acknowledged.
func (c *Conn) ReadFrom(r io.Reader) (n int64, err error) {
	c.streamMx.Lock()
	defer c.streamMx.Unlock()
	return c.stream(r)
}

func (c *Conn) stream(r io.Reader) (n int64, err error) {
	if c.isClosed() {
		return 0, io.ErrClosedPipe
	}

	scanner := bufio.NewScanner(r)
	scanner.Split(splitLinesKeepN)

	last := c.rx.sent
	for scanner.Scan() {
		line := scanner.Bytes()
		last, err = c.send(line)
		if err != nil {
			return n, err
		}
		n += int64(len(line))
	}

	return n, c.waitFor(last)
}

// Write will return after all lines have been sent and acknowledged.
func (c *Conn) Write(p []byte) (int, error) {
	c.streamMx.Lock()
	defer c.streamMx.Unlock()

	n, err := c.stream(bytes.NewReader(p))
	return int(n), err
}

// WriteByte will write directly to the serial device without
// accounting for buffering.
//
// Use for realtime commands like `?`.
func (c *Conn) WriteByte(p byte) (err error) {
	if c.isClosed() {
		return io.ErrClosedPipe
	}
	c.portMx.Lock()
	_, err = c.rw.Write([]byte{p})
	c.portMx.Unlock()
	return err
}

func (c *Conn) answer(r response) error {
	select {
	case c.answers <- r:
		return nil
	case <-c.closed:
		return io.ErrClosedPipe
	}
}

// Read will read the next line from the device.
func (c *Conn) Read(p []byte) (n int, err error) {
	if c.isClosed() {
		return 0, io.ErrClosedPipe
	}

	if c.readBuf != nil {
		if len(p) < len(c.readBuf) {
			return 0, io.ErrShortBuffer
		}
		n = copy(p, c.readBuf)
		c.readBuf = nil
		return n, nil
	}
	if !c.scan.Scan() {
		return 0, c.scan.Err()
	}
	data := bytes.TrimRight(c.scan.Bytes(), "\r")

	switch {
	case bytes.Equal(data, []byte("ok")):
		err = c.answer(response{})
	case bytes.HasPrefix(data, []byte("error:")):
		err = c.answer(response{code: parseCode(data[len("error:"):])})
	case bytes.HasPrefix(data, []byte("ALARM:")):
		a := Alarm{Code: parseCode(data[len("ALARM:"):])}
		c.log.Warn("controller alarm", "code", a.Code, "reason", a.Description())
		if c.onAlarm != nil {
			c.onAlarm(a)
		}
	case bytes.HasPrefix(data, []byte("Grbl")):
		select {
		case c.resets <- struct{}{}:
		default:
		}
	}
	if err != nil {
		return 0, err
	}

	if len(p) < len(data) {
		c.readBuf = bytes.Clone(data)
		return 0, io.ErrShortBuffer
	}

	return copy(p, data), nil
}
