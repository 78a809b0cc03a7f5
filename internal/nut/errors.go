package nut

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a protocol client failure.
type Kind int

const (
	// KindNetwork is a dial, read or write failure at the socket level.
	KindNetwork Kind = iota
	// KindConnectionClosed means upsd closed the connection before a
	// complete response line was read.
	KindConnectionClosed
	// KindProtocol means a response did not match the expected framing.
	KindProtocol
	// KindAuth means the USERNAME/PASSWORD handshake was rejected.
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network error"
	case KindConnectionClosed:
		return "connection closed"
	case KindProtocol:
		return "protocol violation"
	case KindAuth:
		return "authentication failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned by every Transport and Client operation.
type Error struct {
	Kind Kind
	Op   string // command or step that failed, e.g. "LIST UPS"
	Line string // offending raw line for KindProtocol
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" (")
		b.WriteString(e.Op)
		b.WriteString(")")
	}
	if e.Kind == KindProtocol {
		fmt.Fprintf(&b, ": unexpected response %q", e.Line)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ServerCode returns the code of an "ERR <code>" reply, or "" when the
// offending line was something else.
func (e *Error) ServerCode() string {
	rest, ok := strings.CutPrefix(e.Line, "ERR ")
	if !ok {
		return ""
	}
	code, _, _ := strings.Cut(rest, " ")
	return code
}

// IsKind reports whether err, or any error it wraps, is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

func networkError(op string, err error) error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

func closedError(op string) error {
	return &Error{Kind: KindConnectionClosed, Op: op, Err: errConnClosedByServer}
}

func protocolError(op, line string) error {
	return &Error{Kind: KindProtocol, Op: op, Line: line}
}

func authError(op string, err error) error {
	return &Error{Kind: KindAuth, Op: op, Err: err}
}

var errConnClosedByServer = errors.New("connection closed by server")

// ErrClientClosed is returned by requests on a Client after Close.
var ErrClientClosed = errors.New("nut: client closed")

// ErrLoggedOut is returned by requests on a Client after Logout.
var ErrLoggedOut = errors.New("nut: logged out")
