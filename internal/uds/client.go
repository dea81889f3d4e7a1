package uds

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrDaemonUnavailable is returned when the daemon socket cannot be dialed.
var ErrDaemonUnavailable = errors.New("daemon is not reachable")

// Client sends one request per connection on behalf of a sender.
type Client struct {
	socketPath string
	senderID   string
	timeout    time.Duration
}

func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    30 * time.Second,
	}
}

func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

// SetSender stamps id on every request that does not name a sender.
func (c *Client) SetSender(id string) {
	c.senderID = id
}

// Send delivers req and returns the daemon's response as is.
func (c *Client) Send(req *Request) (*Response, error) {
	if req.SenderID == "" {
		req.SenderID = c.senderID
	}

	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %v", ErrDaemonUnavailable, c.socketPath, err)
	}
	defer func() { _ = conn.Close() }()

	_ = conn.SetDeadline(time.Now().Add(c.timeout))

	if err := WriteFrame(conn, req); err != nil {
		return nil, fmt.Errorf("send %s: %w", req.Command, err)
	}
	var resp Response
	if err := ReadFrame(conn, &resp); err != nil {
		return nil, fmt.Errorf("read %s response: %w", req.Command, err)
	}
	return &resp, nil
}

// Call sends command with params and decodes the response data into out. A
// failed response comes back as an internal/errors error with the daemon's
// code.
func (c *Client) Call(command string, params, out any) error {
	req, err := NewRequest(command, params)
	if err != nil {
		return err
	}
	resp, err := c.Send(req)
	if err != nil {
		return err
	}
	return resp.Decode(out)
}
