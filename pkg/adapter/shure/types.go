package shure

import "time"

// accessTokenResponse is the SystemOn token grant payload.
type accessTokenResponse struct {
	Data struct {
		AccessToken   string    `json:"access_token"`
		ExpirationUTC time.Time `json:"expiration_utc"`
	} `json:"data"`
	Success bool `json:"success"`
}

// devicePage is one page of the SystemOn device search response.
type devicePage struct {
	Data struct {
		Count   int      `json:"count"`
		Next    int      `json:"next"`
		Total   int      `json:"total"`
		Results []device `json:"results"`
	} `json:"data"`
	Success bool `json:"success"`
}

// device is a SystemOn device record as returned by the API. Telemetry
// fields are pointers: SystemOn omits them for devices it has not heard
// from, and an omitted battery reading is not a 0% battery.
type device struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Model            string `json:"model"`
	SerialNumber     string `json:"serialNumber"`
	IPAddress        string `json:"ipAddress"`
	BatteryPercent   *int   `json:"batteryPercent"`
	RFQualityPercent *int   `json:"rfQualityPercent"`
	ChannelName      string `json:"channelName"`
	FrequencyMHz     string `json:"frequencyMhz"`
	FirmwareVersion  string `json:"firmwareVersion"`
	Muted            *bool  `json:"muted"`
}

// healthResponse is the SystemOn controller health payload.
type healthResponse struct {
	Status string `json:"status"` // "ok", "degraded", anything else is unhealthy
}
