package index

import (
	"encoding/binary"
	"math"

	"github.com/aukilabs/go-tooling/pkg/errors"
	"github.com/cespare/xxhash/v2"
)

// Error type returned when a position lies outside the range of block
// indices.
const ErrTypePositionOutOfRange = "position_out_of_range"

// The number of voxels along each side of a voxel block.
const VoxelsPerSide = 8

// The number of voxels in a voxel block.
const VoxelsPerBlock = VoxelsPerSide * VoxelsPerSide * VoxelsPerSide

// Index3D is a position on an infinite regular integer grid. It identifies a
// block within a layer, or a voxel within a block.
type Index3D struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
	Z int32 `json:"z"`
}

func NewIndex3D(x, y, z int32) Index3D {
	return Index3D{X: x, Y: y, Z: z}
}

func (i Index3D) Add(o Index3D) Index3D {
	return Index3D{i.X + o.X, i.Y + o.Y, i.Z + o.Z}
}

// InBlock reports whether i is a valid voxel index within a block.
func (i Index3D) InBlock() bool {
	return i.X >= 0 && i.X < VoxelsPerSide &&
		i.Y >= 0 && i.Y < VoxelsPerSide &&
		i.Z >= 0 && i.Z < VoxelsPerSide
}

// Linear returns the offset of voxel index i in a dense block grid.
func (i Index3D) Linear() int {
	return int(i.X) + VoxelsPerSide*(int(i.Y)+VoxelsPerSide*int(i.Z))
}

// Hash returns a process independent hash of the index.
func Hash(i Index3D) uint64 {
	var b [12]byte
	binary.LittleEndian.PutUint32(b[0:], uint32(i.X))
	binary.LittleEndian.PutUint32(b[4:], uint32(i.Y))
	binary.LittleEndian.PutUint32(b[8:], uint32(i.Z))
	return xxhash.Sum64(b[:])
}

type Vector3f struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

func NewVector3f(x, y, z float32) Vector3f {
	return Vector3f{x, y, z}
}

func (v1 Vector3f) Equal(v2 Vector3f) bool {
	return v1.X == v2.X && v1.Y == v2.Y && v1.Z == v2.Z
}

func (v1 Vector3f) EqualWithEpsilon(v2 Vector3f, epsilon float64) bool {
	return math.Abs(float64(v1.X-v2.X)) <= epsilon &&
		math.Abs(float64(v1.Y-v2.Y)) <= epsilon &&
		math.Abs(float64(v1.Z-v2.Z)) <= epsilon
}

func Add(a Vector3f, b Vector3f) Vector3f {
	return Vector3f{a.X + b.X, a.Y + b.Y, a.Z + b.Z}
}

func Sub(a Vector3f, b Vector3f) Vector3f {
	return Vector3f{a.X - b.X, a.Y - b.Y, a.Z - b.Z}
}

func Mul(a Vector3f, s float32) Vector3f {
	return Vector3f{a.X * s, a.Y * s, a.Z * s}
}

func floorDiv(v float32, size float32) int32 {
	return int32(math.Floor(float64(v) / float64(size)))
}

func floorDivInRange(v float32, size float32) bool {
	q := math.Floor(float64(v) / float64(size))
	return q >= math.MinInt32 && q <= math.MaxInt32
}

func clamp(v int32, min int32, max int32) int32 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// PositionToBlockIndex returns the index of the block of side blockSize that
// contains p.
func PositionToBlockIndex(blockSize float32, p Vector3f) Index3D {
	return Index3D{
		X: floorDiv(p.X, blockSize),
		Y: floorDiv(p.Y, blockSize),
		Z: floorDiv(p.Z, blockSize),
	}
}

// PositionInRange reports whether the block index of p fits in an Index3D.
// It is false for NaN and infinite coordinates. PositionToBlockIndex is only
// meaningful for positions in range.
func PositionInRange(blockSize float32, p Vector3f) bool {
	return floorDivInRange(p.X, blockSize) &&
		floorDivInRange(p.Y, blockSize) &&
		floorDivInRange(p.Z, blockSize)
}

// CheckPosition returns an error when p is not in range.
func CheckPosition(blockSize float32, p Vector3f) error {
	if PositionInRange(blockSize, p) {
		return nil
	}

	return errors.New("position out of block index range").
		WithType(ErrTypePositionOutOfRange).
		WithTag("position", p).
		WithTag("block_size", blockSize)
}

// BlockOrigin returns the position of the minimum corner of a block.
func BlockOrigin(blockSize float32, blockIndex Index3D) Vector3f {
	return Vector3f{
		X: float32(blockIndex.X) * blockSize,
		Y: float32(blockIndex.Y) * blockSize,
		Z: float32(blockIndex.Z) * blockSize,
	}
}

// PositionToVoxelIndex returns the index, within its block, of the voxel
// containing p. Positions lying numerically outside the block because of
// floating point error are clamped to its border voxels.
func PositionToVoxelIndex(blockSize float32, voxelSize float32, p Vector3f) Index3D {
	_, voxelIndex := BlockAndVoxelIndexFromPosition(blockSize, voxelSize, p)
	return voxelIndex
}

// BlockAndVoxelIndexFromPosition returns both the block index and the
// block-local voxel index of the voxel containing p.
func BlockAndVoxelIndexFromPosition(blockSize float32, voxelSize float32, p Vector3f) (Index3D, Index3D) {
	blockIndex := PositionToBlockIndex(blockSize, p)
	local := Sub(p, BlockOrigin(blockSize, blockIndex))

	voxelIndex := Index3D{
		X: clamp(floorDiv(local.X, voxelSize), 0, VoxelsPerSide-1),
		Y: clamp(floorDiv(local.Y, voxelSize), 0, VoxelsPerSide-1),
		Z: clamp(floorDiv(local.Z, voxelSize), 0, VoxelsPerSide-1),
	}
	return blockIndex, voxelIndex
}

// PositionFromBlockAndVoxelIndex returns the minimum corner of a voxel.
func PositionFromBlockAndVoxelIndex(blockSize float32, blockIndex Index3D, voxelIndex Index3D) Vector3f {
	voxelSize := blockSize / VoxelsPerSide
	return Add(BlockOrigin(blockSize, blockIndex), Vector3f{
		X: float32(voxelIndex.X) * voxelSize,
		Y: float32(voxelIndex.Y) * voxelSize,
		Z: float32(voxelIndex.Z) * voxelSize,
	})
}

// VoxelCenter returns the center of a voxel.
func VoxelCenter(blockSize float32, blockIndex Index3D, voxelIndex Index3D) Vector3f {
	half := blockSize / VoxelsPerSide / 2
	return Add(PositionFromBlockAndVoxelIndex(blockSize, blockIndex, voxelIndex), Vector3f{half, half, half})
}
