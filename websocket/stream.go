package websocket

import (
	"context"
	"time"

	"github.com/aukilabs/blox/layer"
	"github.com/aukilabs/blox/models"
	"github.com/google/uuid"
	"golang.org/x/net/websocket"
)

// HeaderClientID is the HTTP header a client uses to identify itself when
// opening a voxel stream.
const HeaderClientID = "X-Blox-Client-ID"

// VoxelStreamHandler serves voxel queries and updates over a WebSocket
// connection.
type VoxelStreamHandler struct {
	// The time a client is idle before being disconnected.
	ClientIdleTimeout time.Duration

	// The store that contains the maps to query.
	Maps *models.MapStore

	// Rejects voxel updates when true.
	ReadOnly bool

	conn     *websocket.Conn
	clientID string
}

func (h *VoxelStreamHandler) HandleConnect(conn *websocket.Conn) {
	h.conn = conn

	h.clientID = conn.Request().Header.Get(HeaderClientID)
	if h.clientID == "" {
		h.clientID = uuid.NewString()
	}
}

func (h *VoxelStreamHandler) HandleDisconnect(err error) {
}

func (h *VoxelStreamHandler) HandlePing(ctx context.Context, respond ResponseSender, msg Msg) error {
	respond.Send(Msg{
		ID:        msg.ID,
		Type:      MsgTypePong,
		Timestamp: time.Now(),
	})
	return nil
}

func (h *VoxelStreamHandler) HandleQuery(ctx context.Context, respond ResponseSender, msg Msg) error {
	m, err := h.Maps.Get(msg.Map)
	if err != nil {
		respond.Send(ErrorResponse(msg, err))
		return nil
	}

	var res models.VoxelQueryResult
	err = m.View(func(c *layer.Cake) error {
		var err error
		res, err = models.QueryVoxels(c, msg.Layer, msg.Positions)
		return err
	})
	if err != nil {
		respond.Send(ErrorResponse(msg, err))
		return nil
	}

	respond.Send(Msg{
		ID:        msg.ID,
		Type:      MsgTypeQueryResponse,
		Timestamp: time.Now(),
		Map:       msg.Map,
		Layer:     msg.Layer,
		Result:    &res,
	})
	return nil
}

func (h *VoxelStreamHandler) HandleSetVoxels(ctx context.Context, respond ResponseSender, msg Msg) error {
	if h.ReadOnly {
		respond.Send(ErrorResponse(msg, errReadOnly()))
		return nil
	}

	m, err := h.Maps.Get(msg.Map)
	if err != nil {
		respond.Send(ErrorResponse(msg, err))
		return nil
	}

	err = m.Update(func(c *layer.Cake) error {
		return models.SetVoxels(c, msg.Layer, msg.Voxels)
	})
	if err != nil {
		respond.Send(ErrorResponse(msg, err))
		return nil
	}

	respond.Send(Msg{
		ID:        msg.ID,
		Type:      MsgTypeSetVoxelsResponse,
		Timestamp: time.Now(),
		Map:       msg.Map,
		Layer:     msg.Layer,
	})
	return nil
}

func (h *VoxelStreamHandler) Receiver() Receiver {
	return NewReceiver(h.conn)
}

func (h *VoxelStreamHandler) Sender() Sender {
	return NewSender(h.conn)
}

func (h *VoxelStreamHandler) Close() {
}

func (h *VoxelStreamHandler) IdleTimeout() time.Duration {
	return h.ClientIdleTimeout
}

func (h *VoxelStreamHandler) GetClientID() string {
	return h.clientID
}
