package tritond

import (
	"context"
	"sync"

	"github.com/postmates/go-triton-consumer/triton"
)

// NewMockClient returns a new MockClient
func NewMockClient() *MockClient {
	return &MockClient{
		lock:           new(sync.Mutex),
		PartitionCount: make(map[string]int),
		StreamData:     make(map[string][]*triton.DataRecord),
		WriteSignal:    make(chan bool, 1024),
	}
}

// MockClient implements a client that stores the messages in memory
type MockClient struct {
	StreamData     map[string][]*triton.DataRecord
	PartitionCount map[string]int

	// WriteSignal receives true for every successful Put
	WriteSignal chan bool

	// FailAfter makes every Put after the first FailAfter ones return Err
	FailAfter int
	Err       error

	lock *sync.Mutex
	puts int
}

// Put implements the client interface
func (c *MockClient) Put(_ context.Context, rec *triton.DataRecord) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.Err != nil && c.puts >= c.FailAfter {
		return c.Err
	}
	c.puts++
	c.StreamData[rec.StreamName] = append(c.StreamData[rec.StreamName], rec)
	c.PartitionCount[rec.PartitionKey]++
	select {
	case c.WriteSignal <- true:
	default:
	}
	return nil
}

// Close implements the client interface
func (c *MockClient) Close(context.Context) error {
	return nil
}
