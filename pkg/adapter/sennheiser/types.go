package sennheiser

// deviceListResponse is the WSM gateway listing payload.
type deviceListResponse struct {
	Count   int      `json:"count"`
	Next    string   `json:"next"` // URL of the next page, empty on the last
	Results []device `json:"results"`
}

// device is a WSM device record. Battery and RF readings live in nested
// objects that the gateway omits entirely for receivers it has lost contact
// with; absence must stay distinguishable from a zero reading.
type device struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Serial string `json:"serial"`
	IPv4   struct {
		Address string `json:"address"`
	} `json:"ipv4"`
	Battery *struct {
		Percent  int  `json:"percent"`
		Charging bool `json:"charging"`
	} `json:"battery"`
	RF *struct {
		QualityPercent int    `json:"quality_percent"`
		Band           string `json:"band"`
	} `json:"rf"`
	DeviceType struct {
		Model string `json:"model"`
	} `json:"device_type"`
	FirmwareVersion string `json:"firmware_version"`
}

// systemStatus is the WSM gateway self-health payload.
type systemStatus struct {
	GatewayOnline    bool `json:"gateway_online"`
	ReceiversOffline int  `json:"receivers_offline"`
	ReceiversTotal   int  `json:"receivers_total"`
}
