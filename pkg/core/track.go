package core

// Track is a persisted, named map focus definition.
// ID is assigned by the storage backend on insert.
type Track struct {
	ID        uint    `json:"id"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Zoom      int     `json:"zoom"`
}

// Landmark is a static point of interest drawn alongside the fleet.
type Landmark struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
}
