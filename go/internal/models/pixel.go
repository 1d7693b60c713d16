package models

import "time"

// Cell identifies a single board coordinate.
type Cell struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Pixel represents one non-empty board cell.
type Pixel struct {
	X     int    `json:"x"`
	Y     int    `json:"y"`
	Color string `json:"color"`
}

// PlacedPixel is the persisted form of a pixel, including who placed it and when.
type PlacedPixel struct {
	Pixel
	ActorID  string    `json:"actor_id"`
	PlacedAt time.Time `json:"placed_at"`
}
