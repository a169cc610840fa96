package trust

import (
	"database/sql"
	"fmt"

	"github.com/swallow-rail/swallow/database"
)

// handle applies one feed element inside the surrounding transaction.
// Unknown message types are reported so the caller can log and move on.
func (i *Ingester) handle(tx *sql.Tx, msg Message) error {
	switch msg.Header.MsgType {
	case MsgActivation:
		return i.handleActivation(tx, msg.Body)
	case MsgMovement:
		return i.handleMovement(tx, msg.Body)
	case MsgIdentityChange:
		return i.handleIdentityChange(tx, msg.Body)
	case MsgCancellation, MsgReinstatement, MsgOriginChange, MsgLocationChange:
		// Accepted but not yet acted on; the flat_schedules cancellation
		// columns are waiting for these.
		return nil
	default:
		return fmt.Errorf("unknown message type %q", msg.Header.MsgType)
	}
}

// handleActivation attaches a live train id to the flat schedule the
// timetable planned for (train_uid + origin date).
func (i *Ingester) handleActivation(tx *sql.Tx, body Body) error {
	trustID := body.TrustID()
	activated, err := convertTimestamp(body.CreationTimestamp)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`UPDATE flat_schedules
		SET trust_id=$1, actual_signalling_id=$2, actual_service_code=$3,
		    activation_datetime=$4, train_call_type=$5
		WHERE uid=$6 AND start_date=$7`,
		trustID, headcode(trustID), body.TrainServiceCode, activated,
		firstChar(body.TrainCallType), body.TrainUID, body.TPOriginTimestamp)
	return err
}

// handleMovement upserts today's flat row for the live id (activations can
// be missed, so a sparse row is created on demand) and appends the
// movement to the log.
func (i *Ingester) handleMovement(tx *sql.Tx, body Body) error {
	variation, err := relativeVariation(body.VariationStatus, body.TimetableVariation)
	if err != nil {
		return err
	}
	movementType, ok := movementTypes[body.PlannedEventType]
	if !ok {
		return fmt.Errorf("unknown event type %q", body.PlannedEventType)
	}
	variationStatus, ok := variationStatuses[body.VariationStatus]
	if !ok {
		return fmt.Errorf("unknown variation status %q", body.VariationStatus)
	}

	trustID := body.TrustID()
	var flatIID int64
	err = tx.QueryRow(`INSERT INTO flat_schedules
		(start_date, trust_id, actual_signalling_id, actual_service_code, current_location, current_variation)
		VALUES ($1, $2, $3, $4, (SELECT iid FROM locations WHERE stanox=$5 LIMIT 1), $6)
		ON CONFLICT (start_date, trust_id) DO UPDATE SET
			actual_service_code=excluded.actual_service_code,
			current_location=excluded.current_location,
			current_variation=excluded.current_variation
		RETURNING iid`,
		database.Today(), trustID, headcode(trustID), body.TrainServiceCode,
		body.LocStanox, variation).Scan(&flatIID)
	if err != nil {
		return fmt.Errorf("upsert flat schedule for %s: %w", trustID, err)
	}

	scheduled, err := convertTimestamp(body.PlannedTimestamp)
	if err != nil {
		return err
	}
	actual, err := convertTimestamp(body.ActualTimestamp)
	if err != nil {
		return err
	}

	_, err = tx.Exec(`INSERT INTO trust_movements
		(flat_schedule_iid, stanox, datetime_scheduled, datetime_actual, movement_type,
		 actual_platform, actual_route, actual_line, actual_variation_status, actual_variation,
		 actual_direction, actual_source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		flatIID, body.LocStanox, scheduled, actual, movementType,
		body.Platform, body.Route, body.LineInd, variationStatus, variation,
		firstChar(body.DirectionInd), firstChar(body.EventSource))
	return err
}

// handleIdentityChange renames a running train's live id everywhere it
// appears, refreshing the derived signalling id with it.
func (i *Ingester) handleIdentityChange(tx *sql.Tx, body Body) error {
	_, err := tx.Exec(`UPDATE flat_schedules SET trust_id=$1, actual_signalling_id=$2 WHERE trust_id=$3`,
		body.RevisedTrainID, headcode(body.RevisedTrainID), body.TrustID())
	return err
}
