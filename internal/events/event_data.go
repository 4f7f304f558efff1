package events

// EventData is the interface that all event data types must implement
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// PriceUpdatedData contains data for PriceUpdated events
type PriceUpdatedData struct {
	StockID       string `json:"stock_id"`
	Symbol        string `json:"symbol"`
	Day           string `json:"day"`
	PreviousClose string `json:"previous_close"`
	Price         string `json:"price"`
	Volume        int64  `json:"volume"`
}

// EventType returns the event type for PriceUpdatedData
func (d *PriceUpdatedData) EventType() EventType {
	return PriceUpdated
}

// SimulationCompletedData contains data for SimulationCompleted events
type SimulationCompletedData struct {
	RunID      string `json:"run_id"`
	Day        string `json:"day"`
	Updated    int    `json:"updated"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	DurationMs int64  `json:"duration_ms"`
}

// EventType returns the event type for SimulationCompletedData
func (d *SimulationCompletedData) EventType() EventType {
	return SimulationCompleted
}

// TradeRecordedData contains data for TradeRecorded events
type TradeRecordedData struct {
	TransactionID string `json:"transaction_id"`
	UserID        string `json:"user_id"`
	StockID       string `json:"stock_id"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	Quantity      int64  `json:"quantity"`
}

// EventType returns the event type for TradeRecordedData
func (d *TradeRecordedData) EventType() EventType {
	return TradeRecorded
}

// PositionsReconciledData contains data for PositionsReconciled events
type PositionsReconciledData struct {
	UserID    string `json:"user_id"`
	Positions int    `json:"positions"`
	Drifted   int    `json:"drifted"`
}

// EventType returns the event type for PositionsReconciledData
func (d *PositionsReconciledData) EventType() EventType {
	return PositionsReconciled
}

// StockUpdatedData contains data for StockUpdated events
type StockUpdatedData struct {
	StockID  string `json:"stock_id"`
	Symbol   string `json:"symbol"`
	IsActive bool   `json:"is_active"`
	IsFrozen bool   `json:"is_frozen"`
}

// EventType returns the event type for StockUpdatedData
func (d *StockUpdatedData) EventType() EventType {
	return StockUpdated
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	Key       string `json:"key"`
	SizeBytes int64  `json:"size_bytes"`
	Pruned    int    `json:"pruned"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}
