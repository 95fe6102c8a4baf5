package layer

import (
	"github.com/aukilabs/blox/device"
	"github.com/aukilabs/blox/index"
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// MeshBlock holds the surface mesh extracted from the voxels of one block.
// Vertices, normals and colors are parallel arrays; triangles index into
// them three at a time.
type MeshBlock struct {
	memoryType device.MemoryType
	vertices   *device.Buffer[index.Vector3f]
	normals    *device.Buffer[index.Vector3f]
	colors     *device.Buffer[Color]
	triangles  *device.Buffer[int32]
}

func (b *MeshBlock) Allocate(memoryType device.MemoryType) error {
	return b.SetMesh(memoryType, nil, nil, nil, nil)
}

func (b *MeshBlock) CopyFrom(src *MeshBlock, memoryType device.MemoryType) error {
	vertices, err := src.vertices.Clone(memoryType)
	if err != nil {
		return err
	}
	normals, err := src.normals.Clone(memoryType)
	if err != nil {
		return err
	}
	colors, err := src.colors.Clone(memoryType)
	if err != nil {
		return err
	}
	triangles, err := src.triangles.Clone(memoryType)
	if err != nil {
		return err
	}

	b.memoryType = memoryType
	b.vertices = vertices
	b.normals = normals
	b.colors = colors
	b.triangles = triangles
	return nil
}

// SetMesh replaces the block mesh with a copy of the given arrays.
func (b *MeshBlock) SetMesh(memoryType device.MemoryType, vertices, normals []index.Vector3f, colors []Color, triangles []int32) error {
	if len(normals) != len(vertices) || len(colors) != len(vertices) {
		return errors.New("mesh arrays have different lengths").
			WithTag("vertices", len(vertices)).
			WithTag("normals", len(normals)).
			WithTag("colors", len(colors))
	}
	if len(triangles)%3 != 0 {
		return errors.New("triangle indices are not a multiple of 3").
			WithTag("triangles", len(triangles))
	}

	v, err := device.NewBufferFrom(memoryType, vertices)
	if err != nil {
		return err
	}
	n, err := device.NewBufferFrom(memoryType, normals)
	if err != nil {
		return err
	}
	c, err := device.NewBufferFrom(memoryType, colors)
	if err != nil {
		return err
	}
	t, err := device.NewBufferFrom(memoryType, triangles)
	if err != nil {
		return err
	}

	b.memoryType = memoryType
	b.vertices = v
	b.normals = n
	b.colors = c
	b.triangles = t
	return nil
}

func (b *MeshBlock) MemoryType() device.MemoryType {
	return b.memoryType
}

// NumVertices returns the number of vertices of the mesh.
func (b *MeshBlock) NumVertices() int {
	return b.vertices.Len()
}

func (b *MeshBlock) Vertices() *device.Buffer[index.Vector3f] {
	return b.vertices
}

func (b *MeshBlock) Normals() *device.Buffer[index.Vector3f] {
	return b.normals
}

func (b *MeshBlock) Colors() *device.Buffer[Color] {
	return b.colors
}

func (b *MeshBlock) Triangles() *device.Buffer[int32] {
	return b.triangles
}
