package nut

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPort is the upsd listening port.
const DefaultPort = 3493

// Params identifies a upsd endpoint and optional credentials. An empty
// Username skips authentication; an empty Password skips the PASSWORD step.
type Params struct {
	Host     string
	Port     int
	Username string
	Password string
}

// Options tunes timeouts. A zero RequestTimeout disables the per-request
// deadline.
type Options struct {
	DialTimeout    time.Duration
	RequestTimeout time.Duration
}

// Client is an authenticated upsd session that exclusively owns one
// Transport. Requests must be issued from one goroutine at a time; Close
// may be called from any goroutine. The first failed request poisons the
// Client and every later request returns that error.
type Client struct {
	t       *Transport
	timeout time.Duration

	err       error
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Connect dials upsd and authenticates when p.Username is set. On any
// failure the connection is closed before returning.
func Connect(ctx context.Context, p Params, opts Options) (*Client, error) {
	port := p.Port
	if port == 0 {
		port = DefaultPort
	}
	t, err := Dial(ctx, p.Host, port, opts.DialTimeout)
	if err != nil {
		return nil, err
	}
	c := NewClient(t, opts.RequestTimeout)
	if p.Username != "" {
		if err := c.authenticate(ctx, p.Username, p.Password); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

// NewClient wraps a Transport without performing any handshake.
func NewClient(t *Transport, requestTimeout time.Duration) *Client {
	return &Client{t: t, timeout: requestTimeout}
}

func (c *Client) authenticate(ctx context.Context, username, password string) error {
	if strings.ContainsAny(username, "\r\n") || strings.ContainsAny(password, "\r\n") {
		return authError("USERNAME", fmt.Errorf("credentials must not contain line breaks"))
	}
	err := c.do(ctx, func(t *Transport) error {
		if err := t.SendCommand("USERNAME " + username); err != nil {
			return err
		}
		if err := t.ExpectOK(); err != nil {
			return authError("USERNAME", err)
		}
		if password == "" {
			return nil
		}
		if err := t.SendCommand("PASSWORD " + password); err != nil {
			return err
		}
		if err := t.ExpectOK(); err != nil {
			return authError("PASSWORD", err)
		}
		return nil
	})
	if err == nil || ctx.Err() != nil || IsKind(err, KindAuth) {
		return err
	}
	return authError("login", err)
}

// ListDevices runs LIST UPS and returns the devices in server order.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	const cmd = "LIST UPS"
	var devices []Device
	err := c.do(ctx, func(t *Transport) error {
		return readList(t, cmd, "BEGIN LIST UPS", "END LIST UPS", func(line string) error {
			if !strings.HasPrefix(line, "UPS ") {
				return nil
			}
			// UPS <upsname> "<description>"
			parts := strings.SplitN(line, " ", 3)
			if len(parts) < 3 {
				return protocolError(cmd, line)
			}
			devices = append(devices, Device{Name: parts[1], Description: Unquote(parts[2])})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// ListVariables runs LIST VAR for ups and returns its variable table.
// Lines naming another device are dropped.
func (c *Client) ListVariables(ctx context.Context, ups string) (map[string]string, error) {
	if ups == "" || strings.ContainsAny(ups, " \t\r\n") {
		return nil, fmt.Errorf("invalid ups name %q", ups)
	}
	cmd := "LIST VAR " + ups
	vars := make(map[string]string)
	err := c.do(ctx, func(t *Transport) error {
		return readList(t, cmd, "BEGIN LIST VAR", "END LIST VAR", func(line string) error {
			if !strings.HasPrefix(line, "VAR ") {
				return nil
			}
			// VAR <upsname> <varname> "<value>"
			parts := strings.SplitN(line, " ", 4)
			if len(parts) < 2 || parts[1] != ups {
				return nil
			}
			if len(parts) < 4 {
				return protocolError(cmd, line)
			}
			vars[parts[2]] = Unquote(parts[3])
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return vars, nil
}

// Summary fetches the variables of ups and projects them into a Summary.
func (c *Client) Summary(ctx context.Context, ups string) (Summary, error) {
	vars, err := c.ListVariables(ctx, ups)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(ups, vars), nil
}

// Logout sends LOGOUT without waiting for the farewell reply, so a silent
// server cannot hold up teardown. The client accepts no further requests;
// Close should follow.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, func(t *Transport) error {
		return t.SendCommand("LOGOUT")
	})
	if err == nil {
		c.err = ErrLoggedOut
	}
	return err
}

// Close releases the connection. It is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.t.Close()
	})
	return c.closeErr
}

// do runs one request/response exchange under the request deadline.
// Cancelling ctx expires the connection deadline so a blocked read returns
// at once.
func (c *Client) do(ctx context.Context, fn func(t *Transport) error) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.err != nil {
		return c.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var deadline time.Time
	if c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.t.SetDeadline(deadline); err != nil {
		c.err = networkError("set deadline", err)
		return c.err
	}

	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		_ = c.t.SetDeadline(time.Unix(1, 0))
		close(fired)
	})
	err := fn(c.t)
	if !stop() {
		<-fired
		// The deadline may have cut the response short; treat the whole
		// exchange as cancelled.
		err = ctx.Err()
	}
	if err != nil {
		if c.closed.Load() {
			err = ErrClientClosed
		}
		c.err = err
	}
	return err
}

// readList sends cmd, checks the BEGIN line and feeds every body line to
// each until the END line.
func readList(t *Transport, cmd, begin, end string, each func(line string) error) error {
	if err := t.SendCommand(cmd); err != nil {
		return err
	}
	first, err := t.ReadLine()
	if err != nil {
		return err
	}
	if !strings.HasPrefix(first, begin) {
		return protocolError(cmd, first)
	}
	for {
		line, err := t.ReadLine()
		if err != nil {
			return err
		}
		if strings.HasPrefix(line, end) {
			return nil
		}
		if err := each(line); err != nil {
			return err
		}
	}
}
