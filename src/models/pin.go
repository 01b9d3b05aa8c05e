package models

// Pin represents a single price observation placed on the map.
type Pin struct {
	ID          int64   `json:"id"` // Stable identifier assigned at creation; delete targets this
	Price       float64 `json:"price"`
	Location    string  `json:"location"`
	Brand       string  `json:"brand,omitempty"`
	Fact        string  `json:"fact,omitempty"` // Optional free-text note
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	IsMultiPack bool    `json:"is_multi_pack"`
	Timestamp   string  `json:"timestamp"` // "YYYY-MM-DD HH:MM:SS", set by the server, never updated
}

// PinInput carries the client-supplied fields of a new pin. ID and
// Timestamp are assigned by the storage layer.
type PinInput struct {
	Price       float64 `json:"price"`
	Location    string  `json:"location"`
	Brand       string  `json:"brand"`
	Fact        string  `json:"fact"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	IsMultiPack bool    `json:"is_multi_pack"`
}

// PriceStats summarises the prices of all pins that carry one.
// Pins with a zero price are excluded.
type PriceStats struct {
	Lowest  float64 `json:"lowest"`
	Highest float64 `json:"highest"`
	Average float64 `json:"average"`
	Count   int     `json:"count"`
}

// DataInfo describes where pins are currently stored.
type DataInfo struct {
	StorageType string `json:"storage_type"` // "postgres" or "file"
	Location    string `json:"location"`     // file path or database host
	PinCount    int    `json:"pin_count"`
	Connected   bool   `json:"connected"`
	CloudEnv    bool   `json:"cloud_env,omitempty"` // true when the mounted data directory is in use
	SizeBytes   int64  `json:"size_bytes,omitempty"`
}

// TimestampFormat is the layout pins are stamped and displayed with.
const TimestampFormat = "2006-01-02 15:04:05"
