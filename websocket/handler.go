package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"golang.org/x/net/websocket"
)

const (
	sendChanSize    = 512
	receiveChanSize = 64
)

// Handler represents a voxel stream handler.
type Handler interface {
	// Handles a client connection.
	HandleConnect(conn *websocket.Conn)

	// Handles a client's disconnection.
	HandleDisconnect(error)

	// Handles a ping request.
	HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to query the voxels closest to a list of positions.
	HandleQuery(ctx context.Context, respond ResponseSender, msg Msg) error

	// Handles a request to write voxels.
	HandleSetVoxels(ctx context.Context, respond ResponseSender, msg Msg) error

	// Creates a message receiver used to receive incoming messages.
	Receiver() Receiver

	// Creates a message sender used to send responses.
	Sender() Sender

	// Closes the handler and releases its allocated resources.
	Close()

	// The time a client is idle before being disconnected.
	IdleTimeout() time.Duration

	GetClientID() string
}

// Handle serves the given connection with the given handler until the
// client disconnects, stays idle or the context is canceled.
func Handle(ctx context.Context, conn *websocket.Conn, h Handler) {
	handler := handler{
		Conn:    conn,
		Handler: h,
	}

	handler.Handle(ctx)
}

type handler struct {
	// The WebSocket connection.
	Conn *websocket.Conn

	// The voxel stream handler.
	Handler Handler

	sendChan       chan Msg
	sendDone       chan struct{}
	receiveChan    chan Msg
	sender         Sender
	receiver       Receiver
	disconnectChan chan error
}

func (h *handler) Handle(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	h.Handler.HandleConnect(h.Conn)

	h.disconnectChan = make(chan error, 8)
	defer func() {
		for len(h.disconnectChan) != 0 {
			<-h.disconnectChan
		}
	}()

	var wg sync.WaitGroup

	h.sendChan = make(chan Msg, sendChanSize)
	h.sendDone = make(chan struct{})
	h.sender = h.Handler.Sender()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startSending(ctx)
	}()

	h.receiveChan = make(chan Msg, receiveChanSize)
	h.receiver = h.Handler.Receiver()

	wg.Add(1)
	go func() {
		defer wg.Done()
		h.startReceiving(ctx)
	}()

	idleTimeout := h.Handler.IdleTimeout()
	idleTimer := time.NewTimer(idleTimeout)
	defer idleTimer.Stop()

	responder := responseSender{send: h.send}

	var disconnectErr error

loop:
	for {
		select {
		case <-ctx.Done():
			disconnectErr = ctx.Err()
			break loop

		case <-idleTimer.C:
			disconnectErr = errors.New("idle connection").WithTag("duration", idleTimeout)
			break loop

		case msg := <-h.receiveChan:
			idleTimer.Stop()
			idleTimer.Reset(idleTimeout)

			if err := h.handleMessage(ctx, msg, responder); err != nil {
				disconnectErr = errors.New("handling message failed").Wrap(err)
				break loop
			}

		case err := <-h.disconnectChan:
			disconnectErr = err
			break loop
		}
	}

	h.handleDisconnect(disconnectErr)

	// cancel context so go routines can cleanly exit
	cancel()
	wg.Wait()
}

func (h *handler) send(msg Msg) {
	select {
	case h.sendChan <- msg:
	case <-h.sendDone:
	}
}

func (h *handler) startSending(ctx context.Context) {
	defer close(h.sendDone)
	defer func() {
		for len(h.sendChan) != 0 {
			<-h.sendChan
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.sendChan:
			if _, err := h.sender(msg); err != nil {
				h.disconnect(errors.New("sending message failed").Wrap(err))
				return
			}
		}
	}
}

func (h *handler) startReceiving(ctx context.Context) {
	for {
		msg, _, err := h.receiver()
		if err != nil {
			h.disconnect(errors.New("receiving message failed").Wrap(err))
			return
		}

		select {
		case <-ctx.Done():
			return

		case h.receiveChan <- msg:
		}
	}
}

func (h *handler) handleMessage(ctx context.Context, msg Msg, responder ResponseSender) error {
	switch msg.Type {
	case MsgTypePing:
		return h.Handler.HandlePing(ctx, responder, msg)

	case MsgTypeQuery:
		return h.Handler.HandleQuery(ctx, responder, msg)

	case MsgTypeSetVoxels:
		return h.Handler.HandleSetVoxels(ctx, responder, msg)

	default:
		responder.Send(ErrorResponse(msg, errors.New("unknown message type").
			WithType(ErrTypeUnknownMsg).
			WithTag("msg_type", msg.Type)))
		return nil
	}
}

func (h *handler) disconnect(err error) {
	select {
	case h.disconnectChan <- err:
	default:
	}
}

func (h *handler) handleDisconnect(err error) {
	h.Conn.Close()
	h.Handler.HandleDisconnect(err)
}

type responseSender struct {
	send func(Msg)
}

func (r responseSender) Send(msg Msg) {
	r.send(msg)
}
