package dto

// ResyncJobResponse reports the daily resync sweep outcome.
type ResyncJobResponse struct {
	Synced    int `json:"synced"`
	Recovered int `json:"recovered"`
}

// RepairJobResponse reports the missing-entitlement repair outcome.
type RepairJobResponse struct {
	Checked   int `json:"checked"`
	Recovered int `json:"recovered"`
}
