package nut

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// maxLineLength caps one response line. upsd lines are short; anything
// longer means the stream is not a upsd reply.
const maxLineLength = 64 * 1024

// Transport frames upsd commands and responses as newline-terminated lines
// over a single TCP connection. It is not safe for concurrent use; the
// protocol allows exactly one outstanding command.
type Transport struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

// Dial opens a TCP connection to upsd at host:port.
func Dial(ctx context.Context, host string, port int, timeout time.Duration) (*Transport, error) {
	d := net.Dialer{Timeout: timeout}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, networkError("dial "+addr, err)
	}
	return NewTransport(conn), nil
}

// NewTransport wraps an already established connection.
func NewTransport(conn net.Conn) *Transport {
	return &Transport{
		conn: conn,
		r:    bufio.NewReaderSize(conn, maxLineLength),
		w:    bufio.NewWriter(conn),
	}
}

// SendCommand writes line followed by "\n" and flushes.
func (t *Transport) SendCommand(line string) error {
	if _, err := t.w.WriteString(line + "\n"); err != nil {
		return networkError(commandName(line), err)
	}
	if err := t.w.Flush(); err != nil {
		return networkError(commandName(line), err)
	}
	return nil
}

// ReadLine returns the next response line without its trailing "\r\n".
// A line longer than maxLineLength is a protocol violation.
func (t *Transport) ReadLine() (string, error) {
	line, err := t.r.ReadSlice('\n')
	if err != nil {
		switch {
		case errors.Is(err, bufio.ErrBufferFull):
			return "", protocolError("read", string(line[:64])+"...")
		case errors.Is(err, io.EOF):
			// A partial line followed by EOF is still an incomplete response.
			return "", closedError("read")
		}
		return "", networkError("read", err)
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

// ExpectOK reads one line and fails unless it starts with "OK".
func (t *Transport) ExpectOK() error {
	line, err := t.ReadLine()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(line, "OK") {
		return protocolError("expect OK", line)
	}
	return nil
}

// SetDeadline bounds every read and write until it is changed again.
// A zero value clears the deadline.
func (t *Transport) SetDeadline(deadline time.Time) error {
	return t.conn.SetDeadline(deadline)
}

// Close closes the underlying connection. It may be called from any
// goroutine to abort a blocked read.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// commandName strips arguments from a command so credentials never end up
// in error messages.
func commandName(line string) string {
	switch {
	case strings.HasPrefix(line, "USERNAME "):
		return "USERNAME"
	case strings.HasPrefix(line, "PASSWORD "):
		return "PASSWORD"
	}
	return line
}
