package irc

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/gorilla/websocket"
	"github.com/matt0x6f/ircsync/internal/constants"
	"github.com/matt0x6f/ircsync/internal/lifecycle"
)

// ErrLineTooLong is returned when the server sends a line over the read limit
var ErrLineTooLong = errors.New("line too long")

const maxLineLength = 8192 + 512

// LineConn carries IRC lines without their CRLF terminator
type LineConn interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens the transport of one connection attempt
type Dialer func(ctx context.Context, p lifecycle.Params) (LineConn, error)

// Dial connects over a WebSocket when p.Path is set, otherwise over TCP
// with optional TLS
func Dial(ctx context.Context, p lifecycle.Params) (LineConn, error) {
	ctx, cancel := context.WithTimeout(ctx, constants.ConnectTimeout)
	defer cancel()

	if p.Path != "" {
		return dialWebSocket(ctx, p)
	}

	d := &net.Dialer{}
	var conn net.Conn
	var err error
	if p.TLS {
		td := &tls.Dialer{NetDialer: d, Config: &tls.Config{ServerName: p.Host}}
		conn, err = td.DialContext(ctx, "tcp", p.Addr())
	} else {
		conn, err = d.DialContext(ctx, "tcp", p.Addr())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", p.Addr(), err)
	}
	return NewLineConn(conn), nil
}

type streamConn struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

// NewLineConn frames a byte stream into CRLF-terminated lines
func NewLineConn(conn net.Conn) LineConn {
	s := bufio.NewScanner(conn)
	s.Buffer(make([]byte, 0, 4096), maxLineLength)
	return &streamConn{conn: conn, scanner: s}
}

func (c *streamConn) ReadLine() (string, error) {
	if !c.scanner.Scan() {
		err := c.scanner.Err()
		if errors.Is(err, bufio.ErrTooLong) {
			return "", ErrLineTooLong
		}
		if err == nil {
			err = errors.New("connection closed by server")
		}
		return "", err
	}
	line := strings.TrimSuffix(c.scanner.Text(), "\r")
	return strings.ToValidUTF8(line, string(unicode.ReplacementChar)), nil
}

func (c *streamConn) WriteLine(line string) error {
	_, err := fmt.Fprintf(c.conn, "%s\r\n", line)
	return err
}

func (c *streamConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *streamConn) Close() error {
	return c.conn.Close()
}

// wsConn carries one or more lines per text frame
type wsConn struct {
	ws      *websocket.Conn
	pending []string
}

func dialWebSocket(ctx context.Context, p lifecycle.Params) (LineConn, error) {
	u := url.URL{Scheme: "ws", Host: p.Addr(), Path: "/" + strings.TrimPrefix(p.Path, "/")}
	if p.TLS {
		u.Scheme = "wss"
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: constants.ConnectTimeout,
		Subprotocols:     []string{"text.ircv3.net"},
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", u.String(), err)
	}
	ws.SetReadLimit(maxLineLength)
	return &wsConn{ws: ws}, nil
}

func (c *wsConn) ReadLine() (string, error) {
	for len(c.pending) == 0 {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			return "", err
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			for _, line := range strings.Split(string(message), "\n") {
				line = strings.TrimSuffix(line, "\r")
				if line != "" {
					c.pending = append(c.pending, line)
				}
			}
		}
	}
	line := c.pending[0]
	c.pending = c.pending[1:]
	return strings.ToValidUTF8(line, string(unicode.ReplacementChar)), nil
}

func (c *wsConn) WriteLine(line string) error {
	return c.ws.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsConn) Close() error {
	return c.ws.Close()
}
