// Package trust ingests the live train-movement feed: a STOMP stream of
// JSON message arrays correlated against the flat projection.
package trust

import (
	"fmt"
	"strconv"
)

// Message type codes carried in the header of every feed element.
const (
	MsgActivation     = "0001"
	MsgCancellation   = "0002"
	MsgMovement       = "0003"
	MsgReinstatement  = "0005"
	MsgOriginChange   = "0006"
	MsgIdentityChange = "0007"
	MsgLocationChange = "0008"
)

var movementTypes = map[string]string{
	"DEPARTURE":   "D",
	"ARRIVAL":     "A",
	"DESTINATION": "A",
}

var variationStatuses = map[string]string{
	"ON TIME":   "O",
	"EARLY":     "E",
	"LATE":      "L",
	"OFF ROUTE": "-",
}

type Message struct {
	Header struct {
		MsgType string `json:"msg_type"`
	} `json:"header"`
	Body Body `json:"body"`
}

// Body is the union of the fields the handled message types carry; every
// field arrives as a string on the wire.
type Body struct {
	TrainID            string `json:"train_id"`
	CurrentTrainID     string `json:"current_train_id"`
	RevisedTrainID     string `json:"revised_train_id"`
	TrainUID           string `json:"train_uid"`
	TrainServiceCode   string `json:"train_service_code"`
	TrainCallType      string `json:"train_call_type"`
	CreationTimestamp  string `json:"creation_timestamp"`
	TPOriginTimestamp  string `json:"tp_origin_timestamp"`
	LocStanox          string `json:"loc_stanox"`
	PlannedTimestamp   string `json:"planned_timestamp"`
	ActualTimestamp    string `json:"actual_timestamp"`
	PlannedEventType   string `json:"planned_event_type"`
	TimetableVariation string `json:"timetable_variation"`
	VariationStatus    string `json:"variation_status"`
	Platform           string `json:"platform"`
	Route              string `json:"route"`
	LineInd            string `json:"line_ind"`
	DirectionInd       string `json:"direction_ind"`
	EventSource        string `json:"event_source"`
}

// TrustID returns the live system's identifier for the running train,
// preferring the current (possibly revised) id.
func (b Body) TrustID() string {
	if b.CurrentTrainID != "" {
		return b.CurrentTrainID
	}
	return b.TrainID
}

// headcode extracts the four-character signalling id embedded in a
// ten-character live train id (characters 2-6).
func headcode(trustID string) string {
	if len(trustID) < 6 {
		return ""
	}
	return trustID[2:6]
}

// convertTimestamp turns a millisecond epoch string into whole seconds,
// preserving absence.
func convertTimestamp(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	if ms == 0 {
		return nil, nil
	}
	seconds := ms / 1000
	return &seconds, nil
}

// relativeVariation signs the timetable variation: early running counts
// negative, so EARLY 3 becomes 1-3 = -2 minutes.
func relativeVariation(variationStatus, timetableVariation string) (int, error) {
	v, err := strconv.Atoi(timetableVariation)
	if err != nil {
		return 0, fmt.Errorf("bad timetable variation %q: %w", timetableVariation, err)
	}
	if len(variationStatus) > 0 && variationStatus[0] == 'E' {
		v = 1 - v
	}
	return v, nil
}

func firstChar(s string) interface{} {
	if s == "" {
		return nil
	}
	return s[:1]
}
