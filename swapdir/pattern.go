// Package swapdir provides a tile.Backend that swaps tiles into a directory
// tree, one snappy-compressed file per tile, at paths like "/z/x/y.tile".
package swapdir

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/eak1mov/go-tilebuf/tile"
)

var ErrInvalidPattern = errors.New("tilebuf: invalid file pattern")

func validatePattern(pattern string) error {
	for _, p := range []string{"{x}", "{y}", "{z}"} {
		if !strings.Contains(pattern, p) {
			return fmt.Errorf("%w: placeholder %v not found", ErrInvalidPattern, p)
		}
	}
	return nil
}

func formatPattern(pattern string, tileID tile.ID) string {
	return strings.NewReplacer(
		"{x}", strconv.Itoa(tileID.X),
		"{y}", strconv.Itoa(tileID.Y),
		"{z}", strconv.Itoa(tileID.Z),
	).Replace(pattern)
}

func compilePattern(pattern string) (*regexp.Regexp, error) {
	regexPattern := regexp.QuoteMeta(pattern)
	// QuoteMeta escapes the braces of the placeholders.
	regexPattern = strings.ReplaceAll(regexPattern, `\{x\}`, `(?P<x>-?\d+)`)
	regexPattern = strings.ReplaceAll(regexPattern, `\{y\}`, `(?P<y>-?\d+)`)
	regexPattern = strings.ReplaceAll(regexPattern, `\{z\}`, `(?P<z>\d+)`)
	pathRegex, err := regexp.Compile("^" + regexPattern + "$")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPattern, err)
	}
	return pathRegex, nil
}

func parsePath(pathRegex *regexp.Regexp, filePath string) (tile.ID, bool) {
	matches := pathRegex.FindStringSubmatch(filePath)
	if matches == nil {
		return tile.ID{}, false
	}
	x, errX := strconv.Atoi(matches[pathRegex.SubexpIndex("x")])
	y, errY := strconv.Atoi(matches[pathRegex.SubexpIndex("y")])
	z, errZ := strconv.Atoi(matches[pathRegex.SubexpIndex("z")])
	if errX != nil || errY != nil || errZ != nil {
		return tile.ID{}, false
	}
	return tile.ID{X: x, Y: y, Z: z}, true
}
