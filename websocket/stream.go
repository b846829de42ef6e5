package websocket

import (
	"context"
	"net/http"
	"sync"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize = 16
)

// Stream broadcasts JSON documents to connected WebSocket clients. A client
// receives the last published document when it connects, then every
// following one.
type Stream struct {
	mutex   sync.Mutex
	clients map[*client]struct{}
	last    []byte
}

type client struct {
	conn           *websocket.Conn
	sendChan       chan []byte
	disconnectChan chan error
}

// Publish encodes v and queues it for every connected client. Clients too
// slow to keep up miss the document.
func (s *Stream) Publish(v any) error {
	msg, err := json.Marshal(v)
	if err != nil {
		return errors.New("encoding stream message failed").Wrap(err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.last = msg
	for c := range s.clients {
		select {
		case c.sendChan <- msg:
		default:
			instrumentDroppedMsg()
			logs.WithTag("remote_addr", c.remoteAddr()).
				Warn(errors.New("stream client is too slow, message dropped"))
		}
	}
	return nil
}

// Len returns the number of connected clients.
func (s *Stream) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.clients)
}

// Server returns a websocket server streaming to each connection until ctx is
// done.
func (s *Stream) Server(ctx context.Context) websocket.Server {
	return websocket.Server{
		Handshake: func(c *websocket.Config, r *http.Request) error {
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			defer conn.Close()
			s.Handle(ctx, conn)
		},
	}
}

// Handle streams documents to conn until the client disconnects or ctx is
// done. Messages received from the client are discarded.
func (s *Stream) Handle(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c := &client{
		conn:           conn,
		sendChan:       make(chan []byte, sendChanSize),
		disconnectChan: make(chan error, 2),
	}

	s.subscribe(c)
	defer s.unsubscribe(c)

	logs.WithTag("remote_addr", c.remoteAddr()).Info("stream client is connected")

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.startSending(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.startReceiving(ctx)
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()

	case err = <-c.disconnectChan:
	}

	cancel()
	conn.Close()
	wg.Wait()

	logs.WithTag("remote_addr", c.remoteAddr()).
		WithTag("reason", err.Error()).
		Info("stream client is disconnected")
}

func (s *Stream) subscribe(c *client) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.clients == nil {
		s.clients = make(map[*client]struct{})
	}
	s.clients[c] = struct{}{}

	if s.last != nil {
		c.sendChan <- s.last
	}
	instrumentClients(len(s.clients))
}

func (s *Stream) unsubscribe(c *client) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.clients, c)
	instrumentClients(len(s.clients))
}

func (c *client) startSending(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-c.sendChan:
			if err := websocket.Message.Send(c.conn, string(msg)); err != nil {
				instrumentSendError(err)
				c.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
			instrumentSentMsg(len(msg))
		}
	}
}

func (c *client) startReceiving(ctx context.Context) {
	for ctx.Err() == nil {
		var msg []byte
		if err := websocket.Message.Receive(c.conn, &msg); err != nil {
			c.disconnect(errors.New("receiving message failed").Wrap(err))
			return
		}
	}
}

func (c *client) disconnect(err error) {
	select {
	case c.disconnectChan <- err:
	default:
	}
}

func (c *client) remoteAddr() string {
	if r := c.conn.Request(); r != nil {
		return r.RemoteAddr
	}
	return ""
}
