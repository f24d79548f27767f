package wire

import (
	"io"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// RequestHandler answers an inbound request frame (DIRTY_DBS,
// START_SYNC, WRITE, WRITEBACK or SYNC_DONE) with the frame to send
// back.
type RequestHandler func(Frame) Frame

// ResponseHandler receives an inbound response frame (the peer
// acknowledging something this side sent); the sync engine matches it
// to a session by Token.
type ResponseHandler func(Frame)

// Conn runs the background read/write loop over a byte stream,
// grounded on gholt-valuestore/msg.go's MsgConn: reading dispatches by
// command byte through a lookup table, writing drains an outbound
// channel, and Close stops the writer via a done channel the way
// MsgConn.close waits on writingDoneChan. The reader goroutine is not
// stopped by Close; it ends when a read on the stream fails.
type Conn struct {
	rw        io.ReadWriter
	closing   atomic.Bool
	requests  map[Command]RequestHandler
	onResp    ResponseHandler
	accepting func() bool
	sendCh    chan *Frame
	doneCh    chan struct{}
	log       *logrus.Entry
}

// NewConn builds a Conn. accepting reports whether the boot sequence
// has finished; until it returns true, every inbound request gets a
// TryLater reply instead of being dispatched, per spec.md §4.6.
func NewConn(rw io.ReadWriter, accepting func() bool, onResp ResponseHandler) *Conn {
	return &Conn{
		rw:        rw,
		requests:  make(map[Command]RequestHandler),
		onResp:    onResp,
		accepting: accepting,
		sendCh:    make(chan *Frame, 40),
		doneCh:    make(chan struct{}, 1),
		log:       logrus.WithField("component", "wire"),
	}
}

// Handle registers the handler for an inbound request command.
func (c *Conn) Handle(cmd Command, h RequestHandler) {
	c.requests[cmd] = h
}

// SetResponseHandler sets (or replaces) the response callback, for
// callers that need to construct the Conn before the component that
// will handle its responses exists yet.
func (c *Conn) SetResponseHandler(h ResponseHandler) {
	c.onResp = h
}

// Start launches the read and write goroutines.
func (c *Conn) Start() {
	go c.writing()
	go c.reading()
}

// Send queues a frame for the write goroutine. Per spec.md §4.6,
// outbound sends are best-effort: a full queue silently drops the
// frame rather than blocking the caller.
func (c *Conn) Send(f Frame) {
	if c.closing.Load() {
		return
	}
	ff := f
	select {
	case c.sendCh <- &ff:
	default:
		c.log.WithField("command", f.Command).Warn("send queue full, dropping frame")
	}
}

// Close stops the writer goroutine and waits for it to exit, mirroring
// MsgConn.close's nil-sentinel handshake; frames still queued are
// discarded unwritten. It does not close the stream or stop the reader
// goroutine, which runs until a read on the stream fails.
func (c *Conn) Close() {
	if c.closing.CompareAndSwap(false, true) {
		c.sendCh <- nil
		<-c.doneCh
	}
}

func (c *Conn) reading() {
	for {
		f, err := ReadFrame(c.rw)
		if err != nil {
			if !c.closing.Load() {
				c.log.WithError(err).Debug("read loop ending")
			}
			return
		}
		if f.Command.IsResponse() {
			if c.onResp != nil {
				c.onResp(f)
			}
			continue
		}
		if c.accepting != nil && !c.accepting() {
			c.Send(Frame{Command: f.Command.Response(), Token: f.Token, Result: TryLater})
			continue
		}
		h, ok := c.requests[f.Command]
		if !ok {
			c.Send(Frame{Command: f.Command.Response(), Token: f.Token, Result: InvalidOp})
			continue
		}
		c.Send(h(f))
	}
}

func (c *Conn) writing() {
	for {
		f := <-c.sendCh
		if f == nil {
			break
		}
		if c.closing.Load() {
			continue
		}
		if err := WriteFrame(c.rw, *f); err != nil {
			c.log.WithError(err).Debug("write loop ending")
			break
		}
	}
	c.doneCh <- struct{}{}
}
