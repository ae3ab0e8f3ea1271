package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/KevinKickass/OpenHarnessCore/internal/boards"
	"github.com/KevinKickass/OpenHarnessCore/internal/protocol"
	"github.com/jackc/pgx/v5"
)

// PinResult is one committed measurement of a pin.
type PinResult struct {
	ControllerID string              `json:"controller_id"`
	Pin          protocol.PinRef     `json:"pin"`
	Name         string              `json:"name,omitempty"`
	Healthy      bool                `json:"healthy"`
	Changed      bool                `json:"changed"`
	Connections  []boards.Connection `json:"connections"`
	Unexpected   []protocol.PinRef   `json:"unexpected,omitempty"`
	Missing      []protocol.PinRef   `json:"missing,omitempty"`
	RecordedAt   time.Time           `json:"recorded_at"`
}

func NewPinResult(controllerID string, snap boards.PinSnapshot, at time.Time) PinResult {
	return PinResult{
		ControllerID: controllerID,
		Pin:          snap.Descriptor.Ref,
		Name:         snap.Descriptor.PrettyName(),
		Healthy:      snap.Healthy,
		Changed:      snap.ConnectionsChanged,
		Connections:  snap.Connections,
		Unexpected:   snap.Unexpected,
		Missing:      snap.MissingExpected,
		RecordedAt:   at,
	}
}

const insertResult = `
	INSERT INTO pin_results
		(controller_id, board, pin_index, name, healthy, changed, connections, unexpected, missing, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb, $8::jsonb, $9::jsonb, $10)
`

// InsertResults writes a batch of results in one round trip.
func (p *PostgresClient) InsertResults(ctx context.Context, results []PinResult) error {
	batch := &pgx.Batch{}
	for _, r := range results {
		conns, err := json.Marshal(r.Connections)
		if err != nil {
			return fmt.Errorf("failed to marshal connections: %w", err)
		}
		unexpected, err := jsonOrNil(r.Unexpected)
		if err != nil {
			return err
		}
		missing, err := jsonOrNil(r.Missing)
		if err != nil {
			return err
		}
		batch.Queue(insertResult,
			r.ControllerID, int16(r.Pin.Board), int16(r.Pin.Index), r.Name,
			r.Healthy, r.Changed, string(conns), unexpected, missing, r.RecordedAt)
	}

	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to insert pin results: %w", err)
	}
	return nil
}

// History returns the latest results of one pin, newest first.
func (p *PostgresClient) History(ctx context.Context, ref protocol.PinRef, limit int) ([]PinResult, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT controller_id, name, healthy, changed, connections, unexpected, missing, recorded_at
		FROM pin_results
		WHERE board = $1 AND pin_index = $2
		ORDER BY recorded_at DESC
		LIMIT $3
	`, int16(ref.Board), int16(ref.Index), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pin results: %w", err)
	}
	defer rows.Close()

	var out []PinResult
	for rows.Next() {
		var r PinResult
		var conns, unexpected, missing []byte
		if err := rows.Scan(&r.ControllerID, &r.Name, &r.Healthy, &r.Changed,
			&conns, &unexpected, &missing, &r.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pin result: %w", err)
		}
		r.Pin = ref
		if err := json.Unmarshal(conns, &r.Connections); err != nil {
			return nil, fmt.Errorf("failed to decode connections: %w", err)
		}
		if len(unexpected) > 0 {
			if err := json.Unmarshal(unexpected, &r.Unexpected); err != nil {
				return nil, fmt.Errorf("failed to decode unexpected: %w", err)
			}
		}
		if len(missing) > 0 {
			if err := json.Unmarshal(missing, &r.Missing); err != nil {
				return nil, fmt.Errorf("failed to decode missing: %w", err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func jsonOrNil(refs []protocol.PinRef) (*string, error) {
	if refs == nil {
		return nil, nil
	}
	data, err := json.Marshal(refs)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pin list: %w", err)
	}
	s := string(data)
	return &s, nil
}
