package parser

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/adloop/signage-agent-go/internal/models"
)

type deviceDocument struct {
	ID        flexID  `json:"id"`
	Name      string  `json:"name"`
	Location  string  `json:"location"`
	Active    bool    `json:"active"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ParseDevice parses a device registration document, either enveloped as
// {data:{...}} or as a bare object.
func ParseDevice(data []byte) (models.DeviceInfo, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return models.DeviceInfo{}, &FormatError{Doc: "device"}
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	doc := trimmed
	if err := json.Unmarshal(trimmed, &envelope); err == nil && len(envelope.Data) > 0 {
		doc = envelope.Data
	}

	var device deviceDocument
	if err := json.Unmarshal(doc, &device); err != nil {
		return models.DeviceInfo{}, &FormatError{Doc: "device", Err: err}
	}
	if device.ID == "" {
		return models.DeviceInfo{}, &FormatError{Doc: "device", Err: fmt.Errorf("document missing id")}
	}

	return models.DeviceInfo{
		ID:        string(device.ID),
		Name:      device.Name,
		Location:  device.Location,
		Active:    device.Active,
		Latitude:  device.Latitude,
		Longitude: device.Longitude,
	}, nil
}
