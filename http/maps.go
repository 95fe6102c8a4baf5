package http

import (
	"io"
	"net/http"
	"strings"

	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/index"
	"github.com/aukilabs/blox/layer"
	"github.com/aukilabs/blox/models"
	"github.com/aukilabs/blox/serialization"
	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/segmentio/encoding/json"
)

const (
	// Error type returned when a request cannot be decoded or is invalid.
	ErrTypeBadRequest = "bad_request"

	headerSnapshotSigner = "X-Blox-Snapshot-Signer"

	maxSnapshotSize = 1 << 30
)

// LayerTypes are the layer types a map can be created with.
var LayerTypes = map[string]layer.LayerType{
	layer.TsdfLayerType.Name:      layer.TsdfLayerType,
	layer.ColorLayerType.Name:     layer.ColorLayerType,
	layer.OccupancyLayerType.Name: layer.OccupancyLayerType,
	layer.MeshLayerType.Name:      layer.MeshLayerType,
}

// MapAPI serves the maps of a store over HTTP.
type MapAPI struct {
	Maps *models.MapStore

	// Seals exported snapshots and opens imported ones.
	Sealer *serialization.Sealer

	// Used when a map creation request does not specify them.
	DefaultVoxelSize  float32
	DefaultMemoryType device.MemoryType
}

// RegisterRoutes registers the map routes on the provided mux.
func (api *MapAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /maps", api.handleCreateMap)
	mux.HandleFunc("GET /maps", api.handleListMaps)
	mux.HandleFunc("GET /maps/{map}", api.handleGetMap)
	mux.HandleFunc("DELETE /maps/{map}", api.handleDeleteMap)
	mux.HandleFunc("GET /maps/{map}/layers/{layer}/blocks", api.handleListBlocks)
	mux.HandleFunc("POST /maps/{map}/layers/{layer}/blocks", api.handleAllocateBlocks)
	mux.HandleFunc("DELETE /maps/{map}/layers/{layer}/blocks", api.handleClearBlocks)
	mux.HandleFunc("PUT /maps/{map}/layers/{layer}/voxels", api.handleSetVoxels)
	mux.HandleFunc("POST /maps/{map}/layers/{layer}/voxels/query", api.handleQueryVoxels)
	mux.HandleFunc("GET /maps/{map}/layers/{layer}/view", api.handleGetView)
	mux.HandleFunc("GET /maps/{map}/layers/{layer}/snapshot", api.handleExportSnapshot)
	mux.HandleFunc("PUT /maps/{map}/layers/{layer}/snapshot", api.handleImportSnapshot)
}

type CreateMapRequest struct {
	Name       string   `json:"name"`
	VoxelSize  float32  `json:"voxel_size,omitempty"`
	MemoryType string   `json:"memory_type,omitempty"`
	Layers     []string `json:"layers"`
}

type BlocksRequest struct {
	// Positions whose containing blocks are targeted.
	Positions []index.Vector3f `json:"positions,omitempty"`

	Indices []index.Index3D `json:"indices,omitempty"`

	// Targets every block. Only used to clear a layer.
	All bool `json:"all,omitempty"`
}

type BlocksResponse struct {
	Indices   []index.Index3D `json:"indices"`
	NumBlocks int             `json:"num_blocks"`
}

type SetVoxelsRequest struct {
	Voxels []models.VoxelUpdate `json:"voxels"`
}

type QueryVoxelsRequest struct {
	Positions []index.Vector3f `json:"positions"`
}

type SnapshotImportResponse struct {
	Layer  serialization.LayerHeader `json:"layer"`
	Signer string                    `json:"signer,omitempty"`
}

type ErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (api *MapAPI) handleCreateMap(w http.ResponseWriter, r *http.Request) {
	var req CreateMapRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	voxelSize := req.VoxelSize
	if voxelSize == 0 {
		voxelSize = api.DefaultVoxelSize
	}
	if voxelSize <= 0 {
		writeError(w, r, errors.New("voxel size must be positive").
			WithType(ErrTypeBadRequest).
			WithTag("voxel_size", voxelSize))
		return
	}

	memoryType := api.DefaultMemoryType
	if req.MemoryType != "" {
		mt, err := device.ParseMemoryType(req.MemoryType)
		if err != nil {
			writeError(w, r, errors.New("invalid memory type").
				WithType(ErrTypeBadRequest).
				Wrap(err))
			return
		}
		memoryType = mt
	}

	layerTypes := make([]layer.LayerType, 0, len(req.Layers))
	for _, name := range req.Layers {
		t, ok := LayerTypes[name]
		if !ok {
			writeError(w, r, errors.New("unknown layer type").
				WithType(ErrTypeBadRequest).
				WithTag("layer", name))
			return
		}
		layerTypes = append(layerTypes, t)
	}

	m := models.NewMap(api.Maps.NewID(), req.Name, voxelSize, memoryType, layerTypes...)
	api.Maps.Add(m)

	logs.WithTag("map_uuid", m.UUID).
		WithTag("map_name", m.Name).
		WithTag("voxel_size", voxelSize).
		WithTag("memory_type", memoryType).
		WithTag("layers", req.Layers).
		Info("map created")

	writeJSON(w, http.StatusCreated, m.Info())
}

func (api *MapAPI) handleListMaps(w http.ResponseWriter, r *http.Request) {
	maps := api.Maps.List()

	infos := make([]models.MapInfo, 0, len(maps))
	for _, m := range maps {
		infos = append(infos, m.Info())
	}
	writeJSON(w, http.StatusOK, infos)
}

func (api *MapAPI) handleGetMap(w http.ResponseWriter, r *http.Request) {
	m, err := api.Maps.Get(r.PathValue("map"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m.Info())
}

func (api *MapAPI) handleDeleteMap(w http.ResponseWriter, r *http.Request) {
	m, err := api.Maps.Get(r.PathValue("map"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	api.Maps.Remove(m)
	logs.WithTag("map_uuid", m.UUID).Info("map deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (api *MapAPI) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	api.viewLayer(w, r, func(l layer.BaseLayer) (any, error) {
		indices := l.GetAllBlockIndices()
		return BlocksResponse{
			Indices:   indices,
			NumBlocks: len(indices),
		}, nil
	})
}

func (api *MapAPI) handleAllocateBlocks(w http.ResponseWriter, r *http.Request) {
	var req BlocksRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	api.updateLayer(w, r, func(l layer.BaseLayer) (any, error) {
		indices, err := req.blockIndices(l.BlockSize())
		if err != nil {
			return nil, err
		}
		if err := l.AllocateBlocks(indices); err != nil {
			return nil, err
		}

		return BlocksResponse{
			Indices:   indices,
			NumBlocks: l.NumAllocatedBlocks(),
		}, nil
	})
}

func (api *MapAPI) handleClearBlocks(w http.ResponseWriter, r *http.Request) {
	var req BlocksRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	api.updateLayer(w, r, func(l layer.BaseLayer) (any, error) {
		if req.All {
			l.Clear()
		} else {
			indices, err := req.blockIndices(l.BlockSize())
			if err != nil {
				return nil, err
			}
			l.ClearBlocks(indices)
		}

		return BlocksResponse{
			Indices:   l.GetAllBlockIndices(),
			NumBlocks: l.NumAllocatedBlocks(),
		}, nil
	})
}

func (api *MapAPI) handleSetVoxels(w http.ResponseWriter, r *http.Request) {
	var req SetVoxelsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	m, err := api.Maps.Get(r.PathValue("map"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	err = m.Update(func(c *layer.Cake) error {
		return models.SetVoxels(c, r.PathValue("layer"), req.Voxels)
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (api *MapAPI) handleQueryVoxels(w http.ResponseWriter, r *http.Request) {
	var req QueryVoxelsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	m, err := api.Maps.Get(r.PathValue("map"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var res models.VoxelQueryResult
	err = m.View(func(c *layer.Cake) error {
		var err error
		res, err = models.QueryVoxels(c, r.PathValue("layer"), req.Positions)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (api *MapAPI) handleGetView(w http.ResponseWriter, r *http.Request) {
	api.viewLayer(w, r, func(l layer.BaseLayer) (any, error) {
		return l.BuildGpuLayerView()
	})
}

func (api *MapAPI) handleExportSnapshot(w http.ResponseWriter, r *http.Request) {
	m, err := api.Maps.Get(r.PathValue("map"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	name := r.PathValue("layer")

	var payload []byte
	err = m.View(func(c *layer.Cake) error {
		l, err := models.LayerByName(c, name)
		if err != nil {
			return err
		}

		payload, err = serialization.EncodeBaseLayer(name, l)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	snapshot, err := api.Sealer.Seal(payload)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if signer := api.Sealer.Signer(); signer != "" {
		w.Header().Set(headerSnapshotSigner, signer)
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(snapshot)
}

func (api *MapAPI) handleImportSnapshot(w http.ResponseWriter, r *http.Request) {
	m, err := api.Maps.Get(r.PathValue("map"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxSnapshotSize))
	if err != nil {
		writeError(w, r, errors.New("reading snapshot failed").
			WithType(ErrTypeBadRequest).
			Wrap(err))
		return
	}

	snapshot, err := api.Sealer.Open(data)
	if err != nil {
		writeError(w, r, err)
		return
	}

	name := r.PathValue("layer")

	l, header, err := serialization.DecodeBaseLayer(snapshot.Payload, m.MemoryType())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if header.Name != name {
		writeError(w, r, errors.New("snapshot holds another layer").
			WithType(ErrTypeBadRequest).
			WithTag("layer", name).
			WithTag("snapshot_layer", header.Name))
		return
	}

	err = m.Update(func(c *layer.Cake) error {
		if err := c.Set(name, l); err != nil {
			return errors.New("snapshot does not fit the map").
				WithType(ErrTypeBadRequest).
				Wrap(err)
		}
		return nil
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	logs.WithTag("map_uuid", m.UUID).
		WithTag("layer", name).
		WithTag("blocks", header.NumBlocks).
		WithTag("signer", snapshot.Signer).
		Info("snapshot imported")

	writeJSON(w, http.StatusOK, SnapshotImportResponse{
		Layer:  header,
		Signer: snapshot.Signer,
	})
}

func (api *MapAPI) viewLayer(w http.ResponseWriter, r *http.Request, fn func(l layer.BaseLayer) (any, error)) {
	api.withLayer(w, r, false, fn)
}

func (api *MapAPI) updateLayer(w http.ResponseWriter, r *http.Request, fn func(l layer.BaseLayer) (any, error)) {
	api.withLayer(w, r, true, fn)
}

func (api *MapAPI) withLayer(w http.ResponseWriter, r *http.Request, exclusive bool, fn func(l layer.BaseLayer) (any, error)) {
	m, err := api.Maps.Get(r.PathValue("map"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	access := m.View
	if exclusive {
		access = m.Update
	}

	var res any
	err = access(func(c *layer.Cake) error {
		l, err := models.LayerByName(c, r.PathValue("layer"))
		if err != nil {
			return err
		}

		res, err = fn(l)
		return err
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (req BlocksRequest) blockIndices(blockSize float32) ([]index.Index3D, error) {
	indices := make([]index.Index3D, 0, len(req.Indices)+len(req.Positions))
	indices = append(indices, req.Indices...)
	for _, p := range req.Positions {
		if err := index.CheckPosition(blockSize, p); err != nil {
			return nil, err
		}
		indices = append(indices, index.PositionToBlockIndex(blockSize, p))
	}
	return indices, nil
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("decoding request body failed").
			WithType(ErrTypeBadRequest).
			Wrap(err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusCode(err)

	entry := logs.WithTag("method", r.Method).
		WithTag("path", r.URL.Path).
		WithTag("status", status)
	if status >= http.StatusInternalServerError {
		entry.Error(err)
	} else {
		entry.Debug(err)
	}

	writeJSON(w, status, ErrorResponse{
		Type:    errors.Type(err),
		Message: err.Error(),
	})
}

func statusCode(err error) int {
	switch errors.Type(err) {
	case models.ErrTypeMapNotFound, models.ErrTypeLayerNotFound:
		return http.StatusNotFound

	case ErrTypeBadRequest,
		models.ErrTypeBadVoxel,
		models.ErrTypeNotVoxelLayer,
		index.ErrTypePositionOutOfRange,
		serialization.ErrTypeBadSnapshot,
		serialization.ErrTypeUnsupportedLayer:
		return http.StatusBadRequest

	case serialization.ErrTypeBadSignature:
		return http.StatusUnprocessableEntity

	case device.ErrTypeOutOfMemory:
		return http.StatusInsufficientStorage

	default:
		return http.StatusInternalServerError
	}
}

// metricsPath replaces the map uuid and layer name of a map API path with
// placeholders.
func metricsPath(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) < 3 || parts[1] != "maps" {
		return path
	}

	parts[2] = "{map}"
	if len(parts) >= 5 && parts[3] == "layers" {
		parts[4] = "{layer}"
	}
	return strings.Join(parts, "/")
}
