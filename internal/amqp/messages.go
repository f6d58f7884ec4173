package amqp

import (
	"encoding/json"
	"time"
)

// RoutingKeySeriesChanged carries SeriesEvent messages. Nothing in this
// service binds to it; downstream consumers declare their own queues.
const RoutingKeySeriesChanged = "series.changed"

// SeriesEvent operations
const (
	OperationCreate   = "create"
	OperationEdit     = "edit"
	OperationDelete   = "delete"
	OperationComplete = "complete"
	OperationExtend   = "extend"
)

// SeriesEvent announces a committed change to a series or a one-off payment.
// It carries ids only; consumers read current state from the registry.
type SeriesEvent struct {
	SeriesID     string    `json:"series_id,omitempty"`
	OccurrenceID string    `json:"occurrence_id,omitempty"`
	Operation    string    `json:"operation"`
	Scope        string    `json:"scope,omitempty"`
	RuleVersion  int       `json:"rule_version,omitempty"`
	Affected     []string  `json:"affected,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewSeriesEvent creates a series event stamped with the current time
func NewSeriesEvent(seriesID, operation string, ruleVersion int) *SeriesEvent {
	return &SeriesEvent{
		SeriesID:    seriesID,
		Operation:   operation,
		RuleVersion: ruleVersion,
		Timestamp:   time.Now(),
	}
}

func (m *SeriesEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func SeriesEventFromJSON(data []byte) (*SeriesEvent, error) {
	var msg SeriesEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// HorizonRequest asks the series worker to materialize a series up to Horizon.
// An empty Horizon means "apply the configured horizon policy".
type HorizonRequest struct {
	SeriesID  string    `json:"series_id"`
	Horizon   string    `json:"horizon,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewHorizonRequest(seriesID, horizon string) *HorizonRequest {
	return &HorizonRequest{
		SeriesID:  seriesID,
		Horizon:   horizon,
		Timestamp: time.Now(),
	}
}

func (m *HorizonRequest) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func HorizonRequestFromJSON(data []byte) (*HorizonRequest, error) {
	var msg HorizonRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
