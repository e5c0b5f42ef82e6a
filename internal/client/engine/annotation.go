package engine

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/dmitrijs2005/refsync/internal/client/models"
)

type rawPosition struct {
	PageIndex *int        `json:"pageIndex"`
	Rects     [][]float64 `json:"rects"`
	Paths     [][]float64 `json:"paths"`
	Width     float64     `json:"width"`
}

// decodePosition unpacks the annotationPosition field into normalized
// rectangles or ink paths.
func decodePosition(s string) (*models.AnnotationPosition, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPosition)
	}
	var raw rawPosition
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPosition, err)
	}
	if raw.PageIndex == nil || *raw.PageIndex < 0 {
		return nil, fmt.Errorf("%w: page index", ErrInvalidPosition)
	}
	pos := &models.AnnotationPosition{PageIndex: *raw.PageIndex, LineWidth: round3(raw.Width)}

	switch {
	case len(raw.Rects) > 0:
		for _, r := range raw.Rects {
			if len(r) != 4 {
				return nil, fmt.Errorf("%w: rect with %d values", ErrInvalidPosition, len(r))
			}
			pos.Rects = append(pos.Rects, [4]float64{
				round3(math.Min(r[0], r[2])), round3(math.Min(r[1], r[3])),
				round3(math.Max(r[0], r[2])), round3(math.Max(r[1], r[3])),
			})
		}
	case len(raw.Paths) > 0:
		for _, p := range raw.Paths {
			if len(p) == 0 || len(p)%2 != 0 {
				return nil, fmt.Errorf("%w: path with %d values", ErrInvalidPosition, len(p))
			}
			path := make([]float64, len(p))
			for i, v := range p {
				path[i] = round3(v)
			}
			pos.Paths = append(pos.Paths, path)
		}
	default:
		return nil, fmt.Errorf("%w: no rects or paths", ErrInvalidPosition)
	}
	return pos, nil
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
