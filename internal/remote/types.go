package remote

import (
	"time"

	"github.com/picron-io/picron-agent/internal/sampling"
)

// Status values carried by a Row.
const (
	StatusIdle    = 0
	StatusDataset = 1
	StatusPredict = 2
)

// Row is the backend's status record for one tracked subject. Label fields
// are nullable on the backend.
type Row struct {
	FactoryMedicineID string   `json:"factory_medicine_id"`
	Status            int      `json:"status"`
	TasteSweet        *float64 `json:"taste_sweet"`
	TasteSalty        *float64 `json:"taste_salty"`
	TasteBitter       *float64 `json:"taste_bitter"`
	TasteSour         *float64 `json:"taste_sour"`
	TasteUmami        *float64 `json:"taste_umami"`
	Quality           *float64 `json:"quality"`
	Dilution          *float64 `json:"dilution"`
	Factory           *string  `json:"factory,omitempty"`
}

// rowEnvelope is the GET /picron/{id} response body.
type rowEnvelope struct {
	Status string `json:"status"`
	Data   []Row  `json:"data"`
}

// Readings is the measurement part shared by every outbound payload.
type Readings struct {
	MQ3PPM  float64 `json:"mq3_ppm"`
	AS7263R float64 `json:"as7263_r"`
	AS7263S float64 `json:"as7263_s"`
	AS7263T float64 `json:"as7263_t"`
	AS7263U float64 `json:"as7263_u"`
	AS7263V float64 `json:"as7263_v"`
	AS7263W float64 `json:"as7263_w"`
}

// ReadingsFrom maps a smoothed sample onto the backend field names.
func ReadingsFrom(s sampling.Sample) Readings {
	return Readings{
		MQ3PPM:  s.Aux,
		AS7263R: s.Channels[0],
		AS7263S: s.Channels[1],
		AS7263T: s.Channels[2],
		AS7263U: s.Channels[3],
		AS7263V: s.Channels[4],
		AS7263W: s.Channels[5],
	}
}

// SensorData is a labelled dataset reading.
type SensorData struct {
	FactoryMedicineID string    `json:"factory_medicine_id"`
	Timestamp         time.Time `json:"timestamp"`
	Temperature       float64   `json:"temperature"`
	Readings
	TasteSweet  *float64 `json:"taste_sweet"`
	TasteSalty  *float64 `json:"taste_salty"`
	TasteBitter *float64 `json:"taste_bitter"`
	TasteSour   *float64 `json:"taste_sour"`
	TasteUmami  *float64 `json:"taste_umami"`
	Quality     *float64 `json:"quality"`
	Dilution    *float64 `json:"dilution"`
}

// NewSensorData builds a dataset reading from a sample, echoing the labels
// of row.
func NewSensorData(subject string, row Row, s sampling.Sample) SensorData {
	return SensorData{
		FactoryMedicineID: subject,
		Timestamp:         s.Completed.UTC(),
		Temperature:       s.Temperature,
		Readings:          ReadingsFrom(s),
		TasteSweet:        row.TasteSweet,
		TasteSalty:        row.TasteSalty,
		TasteBitter:       row.TasteBitter,
		TasteSour:         row.TasteSour,
		TasteUmami:        row.TasteUmami,
		Quality:           row.Quality,
		Dilution:          row.Dilution,
	}
}

// SensorInput is an unlabelled prediction request.
type SensorInput struct {
	Temperature float64 `json:"temperature"`
	Readings
}

// NewSensorInput builds a prediction request from a sample.
func NewSensorInput(s sampling.Sample) SensorInput {
	return SensorInput{Temperature: s.Temperature, Readings: ReadingsFrom(s)}
}

// Prediction is the model output returned by the predict endpoint.
type Prediction struct {
	Taste struct {
		Sweet  float64 `json:"sweet"`
		Salty  float64 `json:"salty"`
		Bitter float64 `json:"bitter"`
		Sour   float64 `json:"sour"`
		Umami  float64 `json:"umami"`
	} `json:"taste"`
	Quality  float64 `json:"quality"`
	Dilution float64 `json:"dilution"`
}

type predictionEnvelope struct {
	Status     string     `json:"status"`
	Prediction Prediction `json:"prediction"`
}

// PicronData is the status update body. The backend requires every label,
// so missing ones are sent as zero.
type PicronData struct {
	TasteSweet  float64 `json:"taste_sweet"`
	TasteSalty  float64 `json:"taste_salty"`
	TasteBitter float64 `json:"taste_bitter"`
	TasteSour   float64 `json:"taste_sour"`
	TasteUmami  float64 `json:"taste_umami"`
	Quality     float64 `json:"quality"`
	Dilution    float64 `json:"dilution"`
	Status      int     `json:"status"`
	Factory     *string `json:"factory,omitempty"`
}

// ResetFrom copies the labels of row into an update with status forced to
// idle.
func ResetFrom(row Row) PicronData {
	return PicronData{
		TasteSweet:  deref(row.TasteSweet),
		TasteSalty:  deref(row.TasteSalty),
		TasteBitter: deref(row.TasteBitter),
		TasteSour:   deref(row.TasteSour),
		TasteUmami:  deref(row.TasteUmami),
		Quality:     deref(row.Quality),
		Dilution:    deref(row.Dilution),
		Status:      StatusIdle,
		Factory:     row.Factory,
	}
}

// LiveSensorData is the latest-reading snapshot pushed for dashboards.
type LiveSensorData struct {
	FactoryMedicineID string    `json:"factory_medicine_id"`
	Timestamp         time.Time `json:"timestamp"`
	Readings
}

// NewLiveSensorData builds a live snapshot from a sample.
func NewLiveSensorData(subject string, s sampling.Sample) LiveSensorData {
	return LiveSensorData{FactoryMedicineID: subject, Timestamp: s.Completed.UTC(), Readings: ReadingsFrom(s)}
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
