// Package websocket carries radio packets over websocket binary messages so a
// client can reach an MQTT-SN gateway without radio hardware.
//
// Each message is one frame: source node, destination node, packet.
package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/RoanBrand/mqttsn/internal/model"
	"github.com/RoanBrand/mqttsn/internal/queue"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	Subprotocol = "mqttsn"

	frameHeaderLen = 2
	writeTimeout   = 5 * time.Second

	// RxFIFO is the number of received packets held before new ones are dropped.
	RxFIFO = 16
)

var (
	ErrPacketTooLarge = errors.New("packet exceeds radio payload capacity")
	ErrNoPacket       = errors.New("no packet available")
	ErrClosed         = errors.New("socket closed")
)

// Socket is a radio endpoint with its own node ID.
type Socket struct {
	conn *websocket.Conn
	node model.NodeID
	rx   queue.Frames

	wLock sync.Mutex

	errLock sync.Mutex
	err     error
	done    chan struct{}
}

// Dial connects to a websocket radio bridge at url as node.
func Dial(ctx context.Context, url string, node model.NodeID) (*Socket, error) {
	d := websocket.Dialer{
		Subprotocols:     []string{Subprotocol},
		HandshakeTimeout: 10 * time.Second,
	}

	conn, resp, err := d.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s: %s", url, resp.Status)
		}
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	if conn.Subprotocol() != Subprotocol {
		conn.Close()
		return nil, errors.Errorf("dial %s: sub protocol %q not accepted", url, Subprotocol)
	}

	return newSocket(conn, node), nil
}

// Handler accepts radio bridge connections, as a gateway does. Each accepted
// connection is handed to dispatch as a Socket with node ID node.
func Handler(node model.NodeID, checkOrigin bool, dispatch func(*Socket)) http.Handler {
	up := websocket.Upgrader{
		Subprotocols: []string{Subprotocol},
	}
	if !checkOrigin {
		up.CheckOrigin = func(*http.Request) bool { return true }
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if protos := websocket.Subprotocols(r); len(protos) == 0 || protos[0] != Subprotocol {
			errMsg := "websocket client not supported. sub protocol must be '" + Subprotocol + "'"
			http.Error(w, errMsg, http.StatusNotAcceptable)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied.
			log.WithError(err).Debug("Unsuccessful websocket negotiation")
			return
		}

		go dispatch(newSocket(conn, node))
	})
}

func newSocket(conn *websocket.Conn, node model.NodeID) *Socket {
	s := Socket{
		conn: conn,
		node: node,
		rx:   queue.Frames{Limit: RxFIFO},
		done: make(chan struct{}),
	}
	go s.readLoop()
	return &s
}

func (s *Socket) readLoop() {
	defer close(s.done)

	lf := log.Fields{"node": s.node}
	for {
		mt, b, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(err)
			return
		}
		if mt != websocket.BinaryMessage {
			s.setErr(errors.New("not binary message"))
			s.conn.Close()
			return
		}

		if len(b) <= frameHeaderLen {
			log.WithFields(lf).Debug("Dropping empty frame")
			continue
		}
		src, dst, p := model.NodeID(b[0]), model.NodeID(b[1]), b[frameHeaderLen:]
		if dst != s.node {
			continue
		}
		if len(p) > model.PayloadCapacity {
			log.WithFields(lf).WithField("size", len(p)).Debug("Dropping oversized packet")
			continue
		}

		if !s.rx.Add(queue.GetItem(src, dst, p)) {
			log.WithFields(lf).Warn("RX FIFO full, dropping packet")
		}
	}
}

// Send transmits p to node dst.
func (s *Socket) Send(p []byte, dst model.NodeID) error {
	if len(p) > model.PayloadCapacity {
		return errors.Wrapf(ErrPacketTooLarge, "%d bytes", len(p))
	}
	if err := s.Err(); err != nil {
		return errors.Wrap(ErrClosed, err.Error())
	}

	f := make([]byte, frameHeaderLen+len(p))
	f[0], f[1] = byte(s.node), byte(dst)
	copy(f[frameHeaderLen:], p)

	s.wLock.Lock()
	defer s.wLock.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.BinaryMessage, f)
}

// Available reports whether a received packet is waiting. It never blocks.
func (s *Socket) Available() bool {
	return s.rx.Len() > 0
}

// Receive copies the oldest received packet into p.
func (s *Socket) Receive(p []byte) (int, model.NodeID, error) {
	i := s.rx.Pop()
	if i == nil {
		return 0, 0, ErrNoPacket
	}
	defer queue.ReturnItem(i)

	if len(i.P) > len(p) {
		return 0, i.Src, errors.Wrapf(ErrPacketTooLarge, "%d byte buffer", len(p))
	}
	return copy(p, i.P), i.Src, nil
}

// Node is the node ID of this endpoint.
func (s *Socket) Node() model.NodeID {
	return s.node
}

// Err returns why the socket stopped receiving, or nil while it is open.
func (s *Socket) Err() error {
	s.errLock.Lock()
	defer s.errLock.Unlock()
	return s.err
}

func (s *Socket) setErr(err error) {
	s.errLock.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errLock.Unlock()
}

// Done is closed once the socket stops receiving.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Close sends a close message and closes the connection.
// Packets already received can still be read.
func (s *Socket) Close() error {
	s.wLock.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.wLock.Unlock()

	err := s.conn.Close()
	<-s.done
	s.setErr(ErrClosed)
	return err
}
