package monitor

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/nut-monitor/internal/nut"
)

// upsdStub serves a fixed LIST UPS / LIST VAR script to every connection.
// When hangupOnVar is set, the connection is closed without a reply on the
// n-th LIST VAR (1-based, counted per connection). When silentLogout is
// set, LOGOUT is recorded but never answered.
type upsdStub struct {
	ln           net.Listener
	devices      string
	vars         map[string]string
	hangupOnVar  int
	silentLogout bool

	mu       sync.Mutex
	commands []string
	conns    []net.Conn
	wg       sync.WaitGroup
}

func startUPSDStub(t *testing.T, stub *upsdStub) *upsdStub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	stub.ln = ln
	stub.wg.Add(1)
	go func() {
		defer stub.wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			stub.mu.Lock()
			stub.conns = append(stub.conns, conn)
			stub.mu.Unlock()
			stub.wg.Add(1)
			go stub.serve(conn)
		}
	}()
	t.Cleanup(func() {
		ln.Close() //nolint:errcheck
		stub.mu.Lock()
		for _, c := range stub.conns {
			c.Close() //nolint:errcheck
		}
		stub.mu.Unlock()
		stub.wg.Wait()
	})
	return stub
}

func (s *upsdStub) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close() //nolint:errcheck
	varCalls := 0
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		cmd := sc.Text()
		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		s.mu.Unlock()

		var reply string
		switch {
		case cmd == "LIST UPS":
			reply = s.devices
		case strings.HasPrefix(cmd, "LIST VAR "):
			varCalls++
			if s.hangupOnVar != 0 && varCalls == s.hangupOnVar {
				return
			}
			reply = s.vars[strings.TrimPrefix(cmd, "LIST VAR ")]
		case cmd == "LOGOUT" && s.silentLogout:
			continue
		case cmd == "LOGOUT":
			conn.Write([]byte("OK Goodbye\n")) //nolint:errcheck
			return
		default:
			reply = "OK\n"
		}
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func (s *upsdStub) params() nut.Params {
	return nut.Params{Host: "127.0.0.1", Port: s.ln.Addr().(*net.TCPAddr).Port}
}

func (s *upsdStub) count(cmd string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.commands {
		if c == cmd {
			n++
		}
	}
	return n
}

// waitCount polls until the server has seen cmd n times or a deadline
// passes, and returns the last count.
func (s *upsdStub) waitCount(cmd string, n int) int {
	deadline := time.Now().Add(waitFor)
	for {
		got := s.count(cmd)
		if got >= n || time.Now().After(deadline) {
			return got
		}
		time.Sleep(time.Millisecond)
	}
}

func (s *upsdStub) connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

const stubDevices = "BEGIN LIST UPS\nUPS ups1 \"Desc 1\"\nEND LIST UPS\n"

var stubVars = map[string]string{
	"ups1": "BEGIN LIST VAR ups1\nVAR ups1 ups.status \"OL\"\nVAR ups1 battery.charge \"100\"\nEND LIST VAR ups1\n",
}
