package tritond

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/pkg/errors"
	"github.com/postmates/go-triton-consumer/triton"
)

const (
	// DefaultZMQHWM configures the high water mark for the push socket.
	// More info: http://api.zeromq.org/4-1:zmq-setsockopt#toc39
	DefaultZMQHWM = 4000

	// DefaultNumIdleConns configures the number of idle sockets to maintain for zmq.
	DefaultNumIdleConns = 10

	// DefaultZMQEndpoint is where tritond listens unless configured otherwise.
	DefaultZMQEndpoint = "tcp://127.0.0.1:3515"
)

// ErrClientClosed indicates that the client has been closed and is not longer usable.
var ErrClientClosed = errors.New("Client Closed")

// Client defines the interface of a tritond client
type Client interface {
	Put(ctx context.Context, rec *triton.DataRecord) error
	Close(ctx context.Context) error
}

// Header is the first frame of every message sent to tritond.
type Header struct {
	StreamName     string `json:"stream_name"`
	PartitionKey   string `json:"partition_key"`
	ShardID        string `json:"shard_id"`
	SequenceNumber string `json:"sequence_number"`
}

// Option defines a function that can be used to configure a client
type Option func(c *zeromqClient) error

// WithHWM sets the high water mark for the zeromq sockets.
func WithHWM(hwm int) Option {
	return Option(func(c *zeromqClient) error {
		c.highWaterMark = hwm
		return nil
	})
}

// WithZMQEndpoint sets the endpoint for zeromq
func WithZMQEndpoint(endpoint string) Option {
	return Option(func(c *zeromqClient) error {
		if endpoint == "" {
			return errors.New("empty zmq endpoint")
		}
		c.zmqEndpoint = endpoint
		return nil
	})
}

// WithNumIdleConns sets the maximum number of idle zmq sockets
func WithNumIdleConns(numIdle int) Option {
	return Option(func(c *zeromqClient) error {
		c.numIdleConn = numIdle
		return nil
	})
}

// NewClient creates a Client with the given configuration options
func NewClient(opts ...Option) (Client, error) {
	zmqCtx, err := zmq4.NewContext()
	if err != nil {
		return nil, err
	}

	client := &zeromqClient{
		numIdleConn:   DefaultNumIdleConns,
		zmqEndpoint:   DefaultZMQEndpoint,
		highWaterMark: DefaultZMQHWM,
		zmqCtx:        zmqCtx,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(client); err != nil {
			zmqCtx.Term()
			return nil, err
		}
	}
	client.sockets = make(chan *zmq4.Socket, client.numIdleConn)

	return client, nil
}

type zeromqClient struct {
	zmqEndpoint   string
	highWaterMark int
	numIdleConn   int

	zmqCtx    *zmq4.Context
	done      chan struct{}
	closeOnce sync.Once
	sockets   chan *zmq4.Socket
}

func (c *zeromqClient) Put(ctx context.Context, rec *triton.DataRecord) error {
	// Get socket from pool
	s, socketErr := c.getSocket(ctx)
	if socketErr != nil {
		return socketErr
	}
	defer c.putSocket(s)

	headerData, body, err := encodeMessage(rec)
	if err != nil {
		return err
	}

	_, err = s.SendMessageDontwait(headerData, body)
	return err
}

// encodeMessage returns the JSON header frame and the msgp body frame for rec.
func encodeMessage(rec *triton.DataRecord) ([]byte, []byte, error) {
	headerData, err := json.Marshal(Header{
		StreamName:     rec.StreamName,
		PartitionKey:   rec.PartitionKey,
		ShardID:        string(rec.ShardID),
		SequenceNumber: string(rec.SequenceNumber),
	})
	if err != nil {
		return nil, nil, err
	}

	body, err := triton.MarshalDataRecord(make([]byte, 0, 256+len(rec.Data)), rec)
	if err != nil {
		return nil, nil, err
	}
	return headerData, body, nil
}

func (c *zeromqClient) Close(ctx context.Context) error {
	var closed bool
	c.closeOnce.Do(func() {
		closed = true
		close(c.done)
	})
	if !closed {
		return ErrClientClosed
	}

	// Close out idle sockets
	for idle := true; idle; {
		select {
		case s := <-c.sockets:
			s.Close()
		default:
			idle = false
		}
	}

	termFinished := make(chan error, 1)
	go func() {
		termFinished <- c.zmqCtx.Term()
	}()

	// Wait for term up until context deadline
	select {
	case err := <-termFinished:
		return err
	case <-ctx.Done():
		return context.DeadlineExceeded
	}
}

//
// Socket pool
//

func (c *zeromqClient) getSocket(ctx context.Context) (*zmq4.Socket, error) {
	select {
	case <-c.done:
		return nil, ErrClientClosed
	case s := <-c.sockets:
		return s, nil
	default:
		// Create a new socket
		s, err := c.zmqCtx.NewSocket(zmq4.PUSH)
		if err != nil {
			return nil, err
		}

		// Configure
		if deadline, ok := ctx.Deadline(); ok {
			s.SetConnectTimeout(time.Until(deadline))
		}

		s.SetSndhwm(c.highWaterMark)
		s.SetLinger(3 * time.Second)

		if err := s.Connect(c.zmqEndpoint); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	}
}

func (c *zeromqClient) putSocket(s *zmq4.Socket) {
	select {
	case <-c.done:
		s.Close() // Close this socket
		return
	default:
		// fallthrough
	}

	select {
	case c.sockets <- s: // Attempt to reuse socket
	default:
		s.Close() // Disgard socket -- over max idle
	}
}
