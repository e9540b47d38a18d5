// Copyright 2016 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

package cborrpc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ugorji/go/codec"
)

// RemoteError is an error message carried back in a response.
type RemoteError struct {
	Method  string
	Message string
}

func (e RemoteError) Error() string {
	return fmt.Sprintf("%v: %v", e.Method, e.Message)
}

// Client issues requests over a single connection, one at a time.
type Client struct {
	lock    sync.Mutex
	conn    io.ReadWriteCloser
	writer  *bufio.Writer
	encoder *codec.Encoder
	decoder *codec.Decoder
	nextID  uint
	closed  bool
}

// NewClient wraps an established connection.
func NewClient(conn io.ReadWriteCloser) (*Client, error) {
	cbor, err := NewHandle()
	if err != nil {
		return nil, err
	}
	writer := bufio.NewWriter(conn)
	return &Client{
		conn:    conn,
		writer:  writer,
		encoder: codec.NewEncoder(writer, cbor),
		decoder: codec.NewDecoder(bufio.NewReader(conn), cbor),
		nextID:  1,
	}, nil
}

// Call sends method with params and waits for its response.  A
// response error comes back as a RemoteError.
func (c *Client) Call(method string, params ...interface{}) (interface{}, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if params == nil {
		params = []interface{}{}
	}
	request := Request{Method: method, ID: c.nextID, Params: params}
	c.nextID++
	if err := c.encoder.Encode(request); err != nil {
		return nil, err
	}
	if err := c.writer.Flush(); err != nil {
		return nil, err
	}
	var response Response
	if err := c.decoder.Decode(&response); err != nil {
		return nil, err
	}
	if response.ID != request.ID {
		return nil, errors.New("cborrpc: response out of sequence")
	}
	if response.Error != "" {
		return nil, RemoteError{Method: method, Message: response.Error}
	}
	return response.Result, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
