// Package netbridge gives scripts blocking network calls. They run on the
// dispatch goroutine for their whole duration, stalling every other event
// until they return; scripts that cannot afford that should use callbacks.
package netbridge

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fixkme/plua/errs"
	"github.com/fixkme/plua/mlog"
)

const (
	DefaultTimeout = 10 * time.Second
	defaultReadMax = 1024
	// MaxRead bounds a single read, numeric or "*a".
	MaxRead = 16 << 20
)

type tcpConn struct {
	c       net.Conn
	r       *bufio.Reader
	timeout atomic.Int64
	addr    string
}

func (tc *tcpConn) deadline() time.Time {
	return time.Now().Add(time.Duration(tc.timeout.Load()))
}

// TCPManager owns the connections scripts open, keyed by small integer
// ids handed back to the script.
type TCPManager struct {
	mu    sync.Mutex
	conns map[int64]*tcpConn
	seq   int64
}

func NewTCPManager() *TCPManager {
	return &TCPManager{conns: make(map[int64]*tcpConn)}
}

func (m *TCPManager) Connect(host string, port int, timeout time.Duration) (int64, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return 0, errs.Bridge.Wrap(err)
	}
	m.mu.Lock()
	m.seq++
	id := m.seq
	tc := &tcpConn{c: c, r: bufio.NewReader(c), addr: addr}
	tc.timeout.Store(int64(timeout))
	m.conns[id] = tc
	m.mu.Unlock()
	mlog.Debugf("tcp %d connected to %s", id, addr)
	return id, nil
}

func (m *TCPManager) get(id int64) (*tcpConn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tc, ok := m.conns[id]
	if !ok {
		return nil, errs.Bridge.Printf("connection %d not found", id)
	}
	return tc, nil
}

func (m *TCPManager) Write(id int64, data []byte) (int, error) {
	tc, err := m.get(id)
	if err != nil {
		return 0, err
	}
	tc.c.SetWriteDeadline(tc.deadline())
	n, err := tc.c.Write(data)
	if err != nil {
		return n, errs.Bridge.Wrap(err)
	}
	return n, nil
}

// Read follows LuaSocket receive patterns: "*l" reads a line without its
// terminator, "*a" reads until the peer closes, a number reads exactly
// that many bytes. Both are limited to MaxRead. Anything else reads whatever is available, up to 1024
// bytes.
func (m *TCPManager) Read(id int64, pattern string) ([]byte, error) {
	tc, err := m.get(id)
	if err != nil {
		return nil, err
	}
	tc.c.SetReadDeadline(tc.deadline())

	var data []byte
	switch {
	case pattern == "*l" || pattern == "*L":
		var line string
		line, err = tc.r.ReadString('\n')
		if err == nil || (err == io.EOF && line != "") {
			err = nil
			if pattern == "*l" {
				line = strings.TrimRight(line, "\r\n")
			}
		}
		data = []byte(line)
	case pattern == "*a":
		data, err = io.ReadAll(io.LimitReader(tc.r, MaxRead+1))
		if err == nil && len(data) > MaxRead {
			return data[:MaxRead], errs.Bridge.Printf("read exceeds %d bytes", MaxRead)
		}
	default:
		n, convErr := strconv.Atoi(pattern)
		if convErr == nil && n > MaxRead {
			return nil, errs.Bridge.Printf("read of %d bytes exceeds %d", n, MaxRead)
		}
		if convErr == nil && n > 0 {
			data = make([]byte, n)
			var got int
			got, err = io.ReadFull(tc.r, data)
			data = data[:got]
		} else {
			data = make([]byte, defaultReadMax)
			var got int
			got, err = tc.r.Read(data)
			data = data[:got]
		}
	}
	if err != nil {
		return data, errs.Bridge.Wrap(err)
	}
	return data, nil
}

func (m *TCPManager) SetTimeout(id int64, timeout time.Duration) error {
	tc, err := m.get(id)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tc.timeout.Store(int64(timeout))
	return nil
}

func (m *TCPManager) Close(id int64) error {
	m.mu.Lock()
	tc, ok := m.conns[id]
	delete(m.conns, id)
	m.mu.Unlock()
	if !ok {
		return errs.Bridge.Printf("connection %d not found", id)
	}
	mlog.Debugf("tcp %d to %s closed", id, tc.addr)
	if err := tc.c.Close(); err != nil {
		return errs.Bridge.Wrap(err)
	}
	return nil
}

// CloseAll drops every open connection. Used at shutdown.
func (m *TCPManager) CloseAll() int {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[int64]*tcpConn)
	m.mu.Unlock()
	for _, tc := range conns {
		tc.c.Close()
	}
	return len(conns)
}

func (m *TCPManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}
