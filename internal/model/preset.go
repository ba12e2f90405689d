package model

// Preset is a saved todo title that can be re-added quickly.
type Preset struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt Timestamp `json:"createdAt"`
}
