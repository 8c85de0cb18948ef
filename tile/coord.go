package tile

// Index returns the index of the tile containing coord for tiles of the
// given stride: floor(coord / stride).
func Index(coord, stride int) int {
	if coord >= 0 {
		return coord / stride
	}
	return (coord+1)/stride - 1
}

// Offset returns the position of coord inside its tile, in [0, stride).
func Offset(coord, stride int) int {
	if coord >= 0 {
		return coord % stride
	}
	return stride - 1 - (-(coord + 1))%stride
}
