package nn

import (
	"slices"

	flatbush "github.com/bmharper/flatbush-go"
)

// NonMaxSuppression removes detections that overlap a more confident detection of the same
// class by at least minIoU. The survivors keep their relative input order.
func NonMaxSuppression(input []ObjectDetection, minIoU float32) []ObjectDetection {
	if len(input) < 2 {
		return input
	}

	// Create spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(input))
	for _, d := range input {
		fb.Add(int32(d.Box.X1), int32(d.Box.Y1), int32(d.Box.X2), int32(d.Box.Y2))
	}
	fb.Finish()

	// Visit the most confident boxes first
	order := make([]int, len(input))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		ca, cb := input[a].Confidence, input[b].Confidence
		if ca > cb {
			return -1
		} else if ca < cb {
			return 1
		}
		return 0
	})

	deleted := make([]bool, len(input))
	for _, i := range order {
		if deleted[i] {
			continue
		}
		in := input[i]
		for _, j := range fb.Search(int32(in.Box.X1), int32(in.Box.Y1), int32(in.Box.X2), int32(in.Box.Y2)) {
			if i == j || deleted[j] || input[j].Class != in.Class {
				continue
			}
			if input[j].Confidence > in.Confidence {
				continue
			}
			if in.Box.IOU(input[j].Box) >= minIoU {
				deleted[j] = true
			}
		}
	}

	retain := make([]ObjectDetection, 0, len(input))
	for i, d := range input {
		if !deleted[i] {
			retain = append(retain, d)
		}
	}
	return retain
}
