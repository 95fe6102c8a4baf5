package websocket

import (
	"time"

	"github.com/aukilabs/blox/index"
	"github.com/aukilabs/blox/models"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/segmentio/encoding/json"
	"golang.org/x/net/websocket"
)

const (
	MsgTypePing              = "ping"
	MsgTypePong              = "pong"
	MsgTypeQuery             = "query"
	MsgTypeQueryResponse     = "query_response"
	MsgTypeSetVoxels         = "set_voxels"
	MsgTypeSetVoxelsResponse = "set_voxels_response"
	MsgTypeError             = "error"

	// Error type returned when a message cannot be decoded.
	ErrTypeBadMsg = "bad_msg"

	// Error type sent back when a message type is not handled.
	ErrTypeUnknownMsg = "unknown_msg"

	// Error type sent back when voxel updates are disabled.
	ErrTypeReadOnly = "read_only"
)

// Msg is a message exchanged over a voxel stream. Requests carry an ID that
// is echoed back in their response.
type Msg struct {
	ID        string    `json:"id,omitempty"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp,omitempty"`

	Map       string               `json:"map,omitempty"`
	Layer     string               `json:"layer,omitempty"`
	Positions []index.Vector3f     `json:"positions,omitempty"`
	Voxels    []models.VoxelUpdate `json:"voxels,omitempty"`

	Result *models.VoxelQueryResult `json:"result,omitempty"`
	Error  *ErrorMsg                `json:"error,omitempty"`
}

type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ErrorResponse returns the error message answering the given request.
func ErrorResponse(req Msg, err error) Msg {
	errType := errors.Type(err)
	if errType == "" {
		errType = "internal"
	}

	return Msg{
		ID:        req.ID,
		Type:      MsgTypeError,
		Timestamp: time.Now(),
		Error: &ErrorMsg{
			Type:    errType,
			Message: err.Error(),
		},
	}
}

func errReadOnly() error {
	return errors.New("voxel updates are disabled").WithType(ErrTypeReadOnly)
}

// Receiver receives a message and returns the number of bytes read.
type Receiver func() (Msg, int, error)

// Sender sends a message and returns the number of bytes written.
type Sender func(Msg) (int, error)

// ResponseSender queues messages to be sent to the client.
type ResponseSender interface {
	Send(Msg)
}

// NewReceiver returns a receiver that reads JSON messages from the given
// connection.
func NewReceiver(conn *websocket.Conn) Receiver {
	return func() (Msg, int, error) {
		var data []byte
		if err := websocket.Message.Receive(conn, &data); err != nil {
			return Msg{}, 0, err
		}

		var msg Msg
		if err := json.Unmarshal(data, &msg); err != nil {
			return Msg{}, len(data), errors.New("decoding message failed").
				WithType(ErrTypeBadMsg).
				Wrap(err)
		}
		return msg, len(data), nil
	}
}

// NewSender returns a sender that writes JSON messages to the given
// connection.
func NewSender(conn *websocket.Conn) Sender {
	return func(msg Msg) (int, error) {
		data, err := json.Marshal(msg)
		if err != nil {
			return 0, errors.New("encoding message failed").
				WithType(ErrTypeBadMsg).
				WithTag("msg_type", msg.Type).
				Wrap(err)
		}

		if err := websocket.Message.Send(conn, string(data)); err != nil {
			return 0, err
		}
		return len(data), nil
	}
}
