package vectorstore

import (
	"fmt"
	"hash/fnv"
	"math"
)

// hashVector returns a deterministic unit vector for text.
func hashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	var sumSq float64
	for i := range v {
		h := fnv.New32a()
		_, _ = fmt.Fprintf(h, "%s/%d", text, i)
		v[i] = float32(h.Sum32()%1000)/1000 + 0.001
		sumSq += float64(v[i]) * float64(v[i])
	}
	norm := float32(1 / math.Sqrt(sumSq))
	for i := range v {
		v[i] *= norm
	}
	return v
}

func records(n int, section string) []Record {
	out := make([]Record, n)
	for i := range out {
		text := fmt.Sprintf("chunk %d of %s", i, section)
		out[i] = Record{
			ID:     fmt.Sprintf("%s_%d", section, i),
			Vector: hashVector(text, 8),
			Text:   text,
			Metadata: map[string]string{
				"section":     section,
				"chunk_index": fmt.Sprint(i),
			},
		}
	}
	return out
}
