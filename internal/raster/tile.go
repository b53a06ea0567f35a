package raster

// Tile is a rectangular window of a grid, half-open on the max edges.
type Tile struct {
	Col0, Row0 int
	Col1, Row1 int
}

// Tiles partitions grid into square windows of size cells per side. The last
// row and column of tiles may be smaller. A non-positive size yields one tile.
func (g Grid) Tiles(size int) []Tile {
	if size <= 0 {
		return []Tile{{0, 0, g.Width, g.Height}}
	}
	var tiles []Tile
	for r := 0; r < g.Height; r += size {
		for c := 0; c < g.Width; c += size {
			tiles = append(tiles, Tile{
				Col0: c, Row0: r,
				Col1: min(c+size, g.Width), Row1: min(r+size, g.Height),
			})
		}
	}
	return tiles
}

// Each calls fn with the flat index and coordinates of every cell in the tile.
func (t Tile) Each(g Grid, fn func(idx, col, row int)) {
	for row := t.Row0; row < t.Row1; row++ {
		base := row * g.Width
		for col := t.Col0; col < t.Col1; col++ {
			fn(base+col, col, row)
		}
	}
}
