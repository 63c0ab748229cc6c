package types

type ReadingSnapshot struct {
	Label  string  `json:"label"`
	Count  uint64  `json:"count"`
	Last   float64 `json:"last_m"`
	Min    float64 `json:"min_m"`
	Max    float64 `json:"max_m"`
	Mean   float64 `json:"mean_m"`
	Errors uint64  `json:"errors"`
}

type UISnapshot struct {
	Type     string            `json:"type"`
	Seq      uint64            `json:"seq"`
	Readings []ReadingSnapshot `json:"readings"`
}
