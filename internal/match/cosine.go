package match

import "math"

// CosineSimilarity computes the cosine similarity between two embedding vectors.
// Returns a value between -1 and 1, where 1 means identical.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	similarity := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp to [-1, 1] to handle floating point errors.
	if similarity > 1 {
		similarity = 1
	}
	if similarity < -1 {
		similarity = -1
	}
	return similarity
}

// Score normalizes cosine similarity to [0, 1], where 1 means identical.
// Face embeddings of distinct people rarely have negative cosine similarity;
// anything below zero is floored rather than rescaled so that thresholds keep
// their usual interpretation.
func Score(a, b []float32) float64 {
	s := CosineSimilarity(a, b)
	if s < 0 {
		return 0
	}
	return s
}
