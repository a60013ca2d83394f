package tritond

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pebbe/zmq4"
	"github.com/postmates/go-triton-consumer/triton"
)

const testEndpoint = "tcp://127.0.0.1:3516"

// Define a global zeromq `consumer` that can be used within the tests.
var gConsumer *consumer

// Setup the testing enviroment
func TestMain(m *testing.M) {
	flag.Parse()

	gConsumer = &consumer{
		close:    make(chan bool),
		received: make(chan received, 100),
	}
	if err := gConsumer.Start(); err != nil {
		log.Fatal(err)
	}

	// Run tests
	retval := m.Run()

	gConsumer.Stop()

	os.Exit(retval)
}

type received struct {
	header Header
	record *triton.DataRecord
}

// Implement a zeromq consumer for testing
type consumer struct {
	close    chan bool
	received chan received
	socket   *zmq4.Socket
}

func (c *consumer) Start() error {
	wg := new(sync.WaitGroup)
	wg.Add(1)
	var err error

	go func() {
		c.socket, err = zmq4.NewSocket(zmq4.PULL)
		if err != nil {
			wg.Done()
			return
		}
		if err = c.socket.Bind(testEndpoint); err != nil {
			wg.Done()
			return
		}
		c.socket.SetRcvtimeo(100 * time.Millisecond)
		wg.Done()

		for {
			select {
			case <-c.close:
				c.socket.Close()
				return
			default:
				msg, err := c.socket.RecvMessageBytes(0)
				if err != nil {
					continue
				}
				var r received
				if jsonErr := json.Unmarshal(msg[0], &r.header); jsonErr != nil {
					log.Print(jsonErr)
					continue
				}
				rec, msgErr := triton.UnmarshalDataRecord(msg[1])
				if msgErr != nil {
					log.Print(msgErr)
					continue
				}
				r.record = rec
				c.received <- r
			}
		}
	}()
	wg.Wait()
	return err
}

func (c *consumer) Stop() {
	close(c.close)
}
