package database

// RawReading is one timestamped sensor sample for a plant as it lives in the
// sensor_reading table. Timestamps are UNIX seconds so the same value scans
// cleanly across every supported engine.
type RawReading struct {
	ID           int64   `json:"id"`
	PlantID      int64   `json:"plantID"`      // surrogate id from the plant table
	Temperature  float64 `json:"temperature"`  // °C
	SoilMoisture float64 `json:"soilMoisture"` // percent
	TakenAt      int64   `json:"takenAt"`      // UNIX time of the sample
	LastWatered  int64   `json:"lastWatered"`  // UNIX time of the last watering
}

// PlantAverage is the rolling mean of a plant's three most recent readings.
// It is recomputed on every evaluation pass and never stored.
type PlantAverage struct {
	PlantID         int64   `json:"plantID"`
	PlantName       string  `json:"plantName"`
	AvgTemperature  float64 `json:"avgTemperature"`
	AvgSoilMoisture float64 `json:"avgSoilMoisture"`
}

// AlertRecord marks one notification sent for a plant. Rows are append-only;
// the evaluator only ever asks "does one exist in the trailing hour".
type AlertRecord struct {
	ID        int64   `json:"id"`
	PlantID   int64   `json:"plantID"`
	AlertType string  `json:"alertType"` // "temperature" or "soil_moisture"
	Value     float64 `json:"value"`     // the offending average
	SentAt    int64   `json:"sentAt"`    // UNIX time the alert was recorded
}

// Country, Origin, Botanist, and Plant are the slowly-changing reference
// dimensions. Each carries its natural key; surrogate ids are minted by the
// store on first insert.
type Country struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Origin struct {
	ID        int64   `json:"id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	City      string  `json:"city"`
	CountryID int64   `json:"countryID"`
}

type Botanist struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type Plant struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	OriginID       int64  `json:"originID"`
	ScientificName string `json:"scientificName"`
	ImageLink      string `json:"imageLink"`
}

// PlantStatus is the dashboard's view of a plant: its latest reading joined
// with the master row and the assigned botanist.
type PlantStatus struct {
	PlantID       int64   `json:"plantID"`
	PlantName     string  `json:"plantName"`
	Temperature   float64 `json:"temperature"`
	SoilMoisture  float64 `json:"soilMoisture"`
	TakenAt       int64   `json:"takenAt"`
	LastWatered   int64   `json:"lastWatered"`
	BotanistName  string  `json:"botanistName"`
	BotanistEmail string  `json:"botanistEmail"`
	BotanistPhone string  `json:"botanistPhone"`
}
