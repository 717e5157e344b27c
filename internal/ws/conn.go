// Package ws streams live aircraft updates to browser clients over
// WebSocket. The server side of RFC 6455 is small enough to carry directly:
// upgrade via http.Hijacker, unfragmented text and control frames only.
package ws

import (
	"bufio"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

const handshakeGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Frame opcodes.
const (
	opText  = 0x1
	opClose = 0x8
	opPing  = 0x9
	opPong  = 0xA
)

var errNotUpgrade = errors.New("ws: not a websocket upgrade")

// Conn is a hijacked server-side WebSocket connection.
type Conn struct {
	raw net.Conn
	buf *bufio.ReadWriter
}

// Upgrade performs the opening handshake and takes over the connection.
func Upgrade(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	if !headerHasToken(r.Header.Get("Connection"), "upgrade") ||
		!strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return nil, errNotUpgrade
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, errors.New("ws: missing Sec-WebSocket-Key")
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, errors.New("ws: response writer does not support hijacking")
	}
	raw, buf, err := hj.Hijack()
	if err != nil {
		return nil, err
	}

	sum := sha1.Sum([]byte(key + handshakeGUID))
	accept := base64.StdEncoding.EncodeToString(sum[:])
	resp := fmt.Sprintf("HTTP/1.1 101 Switching Protocols\r\n"+
		"Upgrade: websocket\r\nConnection: Upgrade\r\n"+
		"Sec-WebSocket-Accept: %s\r\n\r\n", accept)
	if _, err := buf.WriteString(resp); err != nil {
		raw.Close()
		return nil, err
	}
	if err := buf.Flush(); err != nil {
		raw.Close()
		return nil, err
	}
	return &Conn{raw: raw, buf: buf}, nil
}

// Close tears the TCP connection down.
func (c *Conn) Close() error { return c.raw.Close() }

// WriteText sends one unfragmented text frame. Server frames are unmasked.
func (c *Conn) WriteText(payload []byte) error {
	return c.writeFrame(opText, payload)
}

// WritePing sends a ping control frame.
func (c *Conn) WritePing() error { return c.writeFrame(opPing, []byte("ka")) }

// WritePong answers a ping, echoing its payload.
func (c *Conn) WritePong(payload []byte) error {
	if len(payload) > 125 {
		payload = payload[:125]
	}
	return c.writeFrame(opPong, payload)
}

func (c *Conn) writeFrame(opcode byte, payload []byte) error {
	header := []byte{0x80 | opcode}
	n := len(payload)
	switch {
	case n <= 125:
		header = append(header, byte(n))
	case n < 1<<16:
		header = append(header, 126, byte(n>>8), byte(n))
	default:
		header = append(header, 127,
			byte(n>>56), byte(n>>48), byte(n>>40), byte(n>>32),
			byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
	if _, err := c.buf.Write(header); err != nil {
		return err
	}
	if _, err := c.buf.Write(payload); err != nil {
		return err
	}
	return c.buf.Flush()
}

// ReadFrame reads one client frame and unmasks it. Client frames must be
// masked and unfragmented per RFC 6455.
func (c *Conn) ReadFrame() (opcode byte, payload []byte, err error) {
	h := make([]byte, 2)
	if _, err := io.ReadFull(c.buf, h); err != nil {
		return 0, nil, err
	}
	if h[0]&0x80 == 0 {
		return 0, nil, errors.New("ws: fragmented frames not supported")
	}
	opcode = h[0] & 0x0F
	if h[1]&0x80 == 0 {
		return 0, nil, errors.New("ws: client frame not masked")
	}

	length := int(h[1] & 0x7F)
	switch length {
	case 126:
		b := make([]byte, 2)
		if _, err := io.ReadFull(c.buf, b); err != nil {
			return 0, nil, err
		}
		length = int(b[0])<<8 | int(b[1])
	case 127:
		b := make([]byte, 8)
		if _, err := io.ReadFull(c.buf, b); err != nil {
			return 0, nil, err
		}
		// Reject absurd lengths instead of allocating them.
		if b[0]|b[1]|b[2]|b[3] != 0 {
			return 0, nil, errors.New("ws: frame too large")
		}
		length = int(b[4])<<24 | int(b[5])<<16 | int(b[6])<<8 | int(b[7])
	}

	mask := make([]byte, 4)
	if _, err := io.ReadFull(c.buf, mask); err != nil {
		return 0, nil, err
	}
	payload = make([]byte, length)
	if _, err := io.ReadFull(c.buf, payload); err != nil {
		return 0, nil, err
	}
	for i := range payload {
		payload[i] ^= mask[i%4]
	}
	return opcode, payload, nil
}

func headerHasToken(headerVal, token string) bool {
	for _, v := range strings.Split(headerVal, ",") {
		if strings.EqualFold(strings.TrimSpace(v), token) {
			return true
		}
	}
	return false
}
