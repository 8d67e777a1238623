package oracle

import (
	"fmt"
	"image"

	"github.com/pkg/errors"
)

// MinTileSize is the smallest tile edge accepted for tiled embeddings.
const MinTileSize = 256

var (
	// ErrAmbiguousHalo is returned when only one of the two halo axes is set.
	ErrAmbiguousHalo = errors.New("halo must be set for both axes or for none")
	// ErrHaloWithoutTiling is returned when a halo is given but no tile shape.
	ErrHaloWithoutTiling = errors.New("halo requires a tile shape")
)

// Tiling describes how embeddings are computed: either NoTiling or Tiled.
type Tiling interface {
	isTiling()
	fmt.Stringer
}

// NoTiling passes the whole image to the backend at once.
type NoTiling struct{}

func (NoTiling) isTiling() {}

func (NoTiling) String() string {
	return "no tiling"
}

// Tiled splits the image into Shape sized tiles that overlap by Halo.
type Tiled struct {
	Shape image.Point
	Halo  image.Point
}

func (Tiled) isTiling() {}

func (t Tiled) String() string {
	return fmt.Sprintf("tiles %dx%d halo %dx%d", t.Shape.X, t.Shape.Y, t.Halo.X, t.Halo.Y)
}

// NewTiling validates raw tile and halo inputs where 0 means "not set".
// If only one tile axis is set the tile is square. Tile axes are raised to
// MinTileSize. A halo must either be unset or set on both axes, in which case
// the larger value is used for both.
func NewTiling(tileX, tileY, haloX, haloY int) (Tiling, error) {
	if tileX < 0 || tileY < 0 || haloX < 0 || haloY < 0 {
		return nil, errors.Errorf("tile shape (%d, %d) and halo (%d, %d) must not be negative", tileX, tileY, haloX, haloY)
	}
	if (haloX == 0) != (haloY == 0) {
		return nil, errors.Wrapf(ErrAmbiguousHalo, "got halo (%d, %d)", haloX, haloY)
	}
	if tileX == 0 && tileY == 0 {
		if haloX != 0 {
			return nil, ErrHaloWithoutTiling
		}
		return NoTiling{}, nil
	}

	if tileX == 0 || tileY == 0 {
		edge := max(tileX, tileY)
		tileX, tileY = edge, edge
	}
	tileX = max(tileX, MinTileSize)
	tileY = max(tileY, MinTileSize)

	halo := max(haloX, haloY)
	return Tiled{
		Shape: image.Point{tileX, tileY},
		Halo:  image.Point{halo, halo},
	}, nil
}
