package nut

import (
	"bufio"
	"net"
	"strings"
	"sync"
	"testing"
)

// fakeUPSD is an in-process upsd stand-in listening on 127.0.0.1. For each
// command line received it calls handler, writes the returned text verbatim
// and, when hangup is true, closes the connection afterwards.
type fakeUPSD struct {
	ln      net.Listener
	handler func(cmd string) (reply string, hangup bool)

	mu       sync.Mutex
	commands []string
	conns    []net.Conn
	wg       sync.WaitGroup
}

// startFakeUPSD starts a server that is shut down when the test finishes.
func startFakeUPSD(t *testing.T, handler func(cmd string) (string, bool)) *fakeUPSD {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeUPSD{ln: ln, handler: handler}
	s.wg.Add(1)
	go s.acceptLoop()
	t.Cleanup(s.stop)
	return s
}

func (s *fakeUPSD) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *fakeUPSD) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close() //nolint:errcheck
	sc := bufio.NewScanner(conn)
	for sc.Scan() {
		cmd := sc.Text()
		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		s.mu.Unlock()

		reply, hangup := s.handler(cmd)
		if reply != "" {
			if _, err := conn.Write([]byte(reply)); err != nil {
				return
			}
		}
		if hangup {
			return
		}
	}
}

func (s *fakeUPSD) stop() {
	s.ln.Close() //nolint:errcheck
	s.mu.Lock()
	for _, c := range s.conns {
		c.Close() //nolint:errcheck
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *fakeUPSD) params() Params {
	addr := s.ln.Addr().(*net.TCPAddr)
	return Params{Host: "127.0.0.1", Port: addr.Port}
}

// Commands returns every command line received so far.
func (s *fakeUPSD) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.commands))
	copy(out, s.commands)
	return out
}

// scripted answers known commands from a fixed table and replies
// "ERR UNKNOWN-COMMAND" to everything else.
func scripted(replies map[string]string) func(string) (string, bool) {
	return func(cmd string) (string, bool) {
		if cmd == "LOGOUT" {
			return "OK Goodbye\n", true
		}
		if r, ok := replies[cmd]; ok {
			return r, false
		}
		if strings.HasPrefix(cmd, "USERNAME ") || strings.HasPrefix(cmd, "PASSWORD ") {
			return "OK\n", false
		}
		return "ERR UNKNOWN-COMMAND\n", false
	}
}
