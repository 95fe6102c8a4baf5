package websocket

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/index"
	"github.com/aukilabs/blox/layer"
	"github.com/aukilabs/blox/models"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"
)

type tsdfQueryResponse struct {
	ID     string    `json:"id"`
	Type   string    `json:"type"`
	Error  *ErrorMsg `json:"error"`
	Result struct {
		Layer  string            `json:"layer"`
		Voxels []layer.TsdfVoxel `json:"voxels"`
		Found  []bool            `json:"found"`
	} `json:"result"`
}

func send(t *testing.T, conn *websocket.Conn, msg Msg) {
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, websocket.Message.Send(conn, string(data)))
}

func receive(t *testing.T, conn *websocket.Conn, v any) {
	conn.SetReadDeadline(time.Now().Add(time.Second * 5))

	var data []byte
	require.NoError(t, websocket.Message.Receive(conn, &data))
	require.NoError(t, json.Unmarshal(data, v))
}

func newTestMap(t *testing.T) (*models.MapStore, *models.Map) {
	maps := &models.MapStore{}
	m := models.NewMap(maps.NewID(), "test", 0.1, device.MemoryTypeHost,
		layer.TsdfLayerType,
		layer.MeshLayerType,
	)
	maps.Add(m)
	t.Cleanup(func() { maps.Remove(m) })
	return maps, m
}

func TestVoxelStreamPing(t *testing.T) {
	maps, _ := newTestMap(t)
	client, close := NewTestingEnv(t, newTestHandler(maps, time.Minute))
	defer close()

	send(t, client, Msg{ID: "1", Type: MsgTypePing})

	var res Msg
	receive(t, client, &res)
	require.Equal(t, "1", res.ID)
	require.Equal(t, MsgTypePong, res.Type)
	require.False(t, res.Timestamp.IsZero())
}

func TestVoxelStreamSetAndQuery(t *testing.T) {
	maps, m := newTestMap(t)
	client, close := NewTestingEnv(t, newTestHandler(maps, time.Minute))
	defer close()

	t.Run("set voxels", func(t *testing.T) {
		send(t, client, Msg{
			ID:    "set",
			Type:  MsgTypeSetVoxels,
			Map:   m.UUID,
			Layer: "tsdf",
			Voxels: []models.VoxelUpdate{
				{
					Position: index.Vector3f{X: 0.25, Y: 0.25, Z: 0.25},
					Value:    json.RawMessage(`{"distance":0.5,"weight":4}`),
				},
			},
		})

		var res Msg
		receive(t, client, &res)
		require.Equal(t, "set", res.ID)
		require.Equal(t, MsgTypeSetVoxelsResponse, res.Type)
		require.Nil(t, res.Error)
	})

	t.Run("query voxels", func(t *testing.T) {
		send(t, client, Msg{
			ID:        "query",
			Type:      MsgTypeQuery,
			Map:       m.UUID,
			Layer:     "tsdf",
			Positions: []index.Vector3f{{X: 0.25, Y: 0.25, Z: 0.25}, {X: -10}},
		})

		var res tsdfQueryResponse
		receive(t, client, &res)
		require.Equal(t, "query", res.ID)
		require.Equal(t, MsgTypeQueryResponse, res.Type)
		require.Nil(t, res.Error)
		require.Equal(t, "tsdf", res.Result.Layer)
		require.Equal(t, []bool{true, false}, res.Result.Found)
		require.Equal(t, layer.TsdfVoxel{Distance: 0.5, Weight: 4}, res.Result.Voxels[0])
	})

	t.Run("query a missing map", func(t *testing.T) {
		send(t, client, Msg{ID: "missing", Type: MsgTypeQuery, Map: "nope", Layer: "tsdf"})

		var res Msg
		receive(t, client, &res)
		require.Equal(t, "missing", res.ID)
		require.Equal(t, MsgTypeError, res.Type)
		require.Equal(t, models.ErrTypeMapNotFound, res.Error.Type)
	})

	t.Run("query a mesh layer", func(t *testing.T) {
		send(t, client, Msg{ID: "mesh", Type: MsgTypeQuery, Map: m.UUID, Layer: "mesh"})

		var res Msg
		receive(t, client, &res)
		require.Equal(t, MsgTypeError, res.Type)
		require.Equal(t, models.ErrTypeNotVoxelLayer, res.Error.Type)
	})

	t.Run("unknown message type", func(t *testing.T) {
		send(t, client, Msg{ID: "unknown", Type: "teleport"})

		var res Msg
		receive(t, client, &res)
		require.Equal(t, "unknown", res.ID)
		require.Equal(t, ErrTypeUnknownMsg, res.Error.Type)
	})
}

func TestVoxelStreamReadOnly(t *testing.T) {
	maps, m := newTestMap(t)
	client, close := NewTestingEnv(t, func() Handler {
		return &VoxelStreamHandler{
			ClientIdleTimeout: time.Minute,
			Maps:              maps,
			ReadOnly:          true,
		}
	})
	defer close()

	send(t, client, Msg{
		ID:    "set",
		Type:  MsgTypeSetVoxels,
		Map:   m.UUID,
		Layer: "tsdf",
		Voxels: []models.VoxelUpdate{
			{Value: json.RawMessage(`{"distance":0.5,"weight":4}`)},
		},
	})

	var res Msg
	receive(t, client, &res)
	require.Equal(t, ErrTypeReadOnly, res.Error.Type)

	err := m.View(func(c *layer.Cake) error {
		l, err := models.LayerByName(c, "tsdf")
		require.NoError(t, err)
		require.Zero(t, l.NumAllocatedBlocks())
		return nil
	})
	require.NoError(t, err)
}

func TestVoxelStreamDisconnects(t *testing.T) {
	t.Run("idle client", func(t *testing.T) {
		maps, _ := newTestMap(t)
		client, close := NewTestingEnv(t, newTestHandler(maps, time.Millisecond*50))
		defer close()

		client.SetReadDeadline(time.Now().Add(time.Second * 5))

		var data []byte
		err := websocket.Message.Receive(client, &data)
		require.Error(t, err)
	})

	t.Run("malformed message", func(t *testing.T) {
		maps, _ := newTestMap(t)
		client, close := NewTestingEnv(t, newTestHandler(maps, time.Minute))
		defer close()

		require.NoError(t, websocket.Message.Send(client, "{"))
		client.SetReadDeadline(time.Now().Add(time.Second * 5))

		var data []byte
		err := websocket.Message.Receive(client, &data)
		require.Error(t, err)
	})
}

type closeRecorder struct {
	Handler
	closed *atomic.Bool
}

func (h closeRecorder) Close() {
	h.Handler.Close()
	h.closed.Store(true)
}

func TestTestingEnvCloseWaitsForHandler(t *testing.T) {
	maps, _ := newTestMap(t)

	var closed atomic.Bool
	newHandler := newTestHandler(maps, time.Minute)
	client, close := NewTestingEnv(t, func() Handler {
		return closeRecorder{Handler: newHandler(), closed: &closed}
	})

	send(t, client, Msg{ID: "1", Type: MsgTypePing})
	var res Msg
	receive(t, client, &res)

	close()
	require.True(t, closed.Load())
}
