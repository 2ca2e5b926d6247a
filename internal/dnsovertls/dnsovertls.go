// Package dnsovertls implements DNS over TLS (RFC 7858) on top of
// TLS sockets. Each message is prefixed by its length encoded as a
// two byte big endian integer, as in DNS over TCP.
package dnsovertls

import (
	"errors"
	"fmt"
	"io"

	"github.com/miekg/dns"
)

// Socket is the part of a TLS socket used by this package.
type Socket interface {
	Send(b []byte) (int, error)
	Receive(max int) ([]byte, error)
}

// receiveSize is the size of each Receive call.
const receiveSize = 4096

// ErrMessageTooLarge indicates that a packed message does not fit
// into the two byte length prefix.
var ErrMessageTooLarge = errors.New("dnsovertls: message too large")

// Conn reads and writes length prefixed DNS messages.
type Conn struct {
	pending []byte
	sock    Socket
}

// NewConn creates a new Conn using sock.
func NewConn(sock Socket) *Conn {
	return &Conn{sock: sock}
}

// WriteMessage packs msg and sends it.
func (c *Conn) WriteMessage(msg *dns.Msg) error {
	data, err := msg.Pack()
	if err != nil {
		return err
	}
	if len(data) > 0xffff {
		return ErrMessageTooLarge
	}
	frame := make([]byte, 2, 2+len(data))
	frame[0] = byte(len(data) >> 8)
	frame[1] = byte(len(data))
	frame = append(frame, data...)
	n, err := c.sock.Send(frame)
	if err != nil {
		return err
	}
	if n != len(frame) {
		return io.ErrShortWrite
	}
	return nil
}

// ReadMessage reads and unpacks the next message. It returns io.EOF
// if the peer closed the connection between two messages.
func (c *Conn) ReadMessage() (*dns.Msg, error) {
	header, err := c.next(2)
	if err != nil {
		return nil, err
	}
	length := int(header[0])<<8 | int(header[1])
	data, err := c.next(length)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return nil, err
	}
	msg := new(dns.Msg)
	if err := msg.Unpack(data); err != nil {
		return nil, err
	}
	return msg, nil
}

// next returns the next n bytes of the stream.
func (c *Conn) next(n int) ([]byte, error) {
	for len(c.pending) < n {
		data, err := c.sock.Receive(receiveSize)
		if err != nil {
			return nil, err
		}
		if len(data) == 0 {
			if len(c.pending) == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		}
		c.pending = append(c.pending, data...)
	}
	out := c.pending[:n]
	c.pending = c.pending[n:]
	return out, nil
}

// Client sends queries over a single connection.
type Client struct {
	conn *Conn
}

// NewClient creates a new client using sock.
func NewClient(sock Socket) *Client {
	return &Client{conn: NewConn(sock)}
}

// Query asks for the records of type qtype owned by name.
func (c *Client) Query(name string, qtype uint16) (*dns.Msg, error) {
	query := new(dns.Msg)
	query.SetQuestion(dns.Fqdn(name), qtype)
	return c.Exchange(query)
}

// Exchange sends query and waits for the corresponding reply.
func (c *Client) Exchange(query *dns.Msg) (*dns.Msg, error) {
	if err := c.conn.WriteMessage(query); err != nil {
		return nil, err
	}
	reply, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if reply.Id != query.Id {
		return nil, fmt.Errorf("dnsovertls: unexpected reply ID %d", reply.Id)
	}
	return reply, nil
}

// Serve reads queries from sock and writes the replies returned by
// handler until the peer closes the connection. When handler returns
// nil, the query is not answered.
func Serve(sock Socket, handler func(query *dns.Msg) *dns.Msg) error {
	conn := NewConn(sock)
	for {
		query, err := conn.ReadMessage()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		reply := handler(query)
		if reply == nil {
			continue
		}
		if err := conn.WriteMessage(reply); err != nil {
			return err
		}
	}
}
