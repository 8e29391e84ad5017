package core

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
)

// testConn is an in-memory Conn that records every payload it receives.
type testConn struct {
	mu     sync.Mutex
	sent   [][]byte
	fail   bool
	closed bool
}

func (c *testConn) Send(_ context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("send failed")
	}
	buf := make([]byte, len(payload))
	copy(buf, payload)
	c.sent = append(c.sent, buf)
	return nil
}

func (c *testConn) Close(StatusCode, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *testConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sent))
	copy(out, c.sent)
	return out
}

// countingData counts how many times it is marshalled, to assert that
// broadcasts encode an event exactly once regardless of fan-out.
type countingData struct {
	encodes *atomic.Int32
}

func (d countingData) MarshalJSON() ([]byte, error) {
	d.encodes.Add(1)
	return json.Marshal(map[string]string{"payload": "x"})
}
