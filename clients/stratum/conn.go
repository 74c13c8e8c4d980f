package stratum

import (
	"bufio"
	"bytes"
	"context"
	"net"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

const (
	// MaxMessageSize bounds a single line read from the pool.
	MaxMessageSize = 64 * 1024
	dialTimeout    = 10 * time.Second
)

var fastJSON = sonic.ConfigDefault

// Conn is a newline delimited JSON connection.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader

	// ReadTimeout, when set, is the longest the pool may stay silent.
	ReadTimeout time.Duration

	wmu sync.Mutex
}

// Dial opens a TCP connection to address.
func Dial(ctx context.Context, address string) (*Conn, error) {
	d := net.Dialer{Timeout: dialTimeout}
	c, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return NewConn(c), nil
}

func NewConn(c net.Conn) *Conn {
	return &Conn{
		conn:   c,
		reader: bufio.NewReaderSize(c, MaxMessageSize),
	}
}

// WriteJSON encodes v as one line. Safe for concurrent use.
func (c *Conn) WriteJSON(v interface{}) error {
	data, err := fastJSON.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err = c.conn.Write(data)
	return err
}

// ReadLine returns the next non-empty line without its terminator.
func (c *Conn) ReadLine() ([]byte, error) {
	for {
		if c.ReadTimeout > 0 {
			if err := c.conn.SetReadDeadline(time.Now().Add(c.ReadTimeout)); err != nil {
				return nil, err
			}
		}
		line, err := c.reader.ReadBytes('\n')
		if err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			return line, nil
		}
	}
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// Unmarshal decodes a line read from the connection.
func Unmarshal(line []byte, v interface{}) error {
	return fastJSON.Unmarshal(line, v)
}
