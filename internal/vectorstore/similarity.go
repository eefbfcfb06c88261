package vectorstore

import "math"

// Cosine 返回映射到 [0, 1] 的余弦相似度：(cos + 1) / 2。
// 任一向量为零向量、为空或维度不一致时返回 0。
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return clamp01((dot/(math.Sqrt(na)*math.Sqrt(nb)) + 1) / 2)
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
