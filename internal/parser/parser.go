package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/srec-ev/tracker/internal/util"
	"github.com/srec-ev/tracker/pkg/core"
)

var (
	ErrEmptyPayload   = errors.New("empty payload")
	ErrMissingMessage = errors.New("missing alert message")
)

// flexFloat accepts a JSON number or a string holding one. Transports in
// the field send both.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", s)
		}
		*f = flexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexFloat(v)
	return nil
}

func (f *flexFloat) ptr() *float64 {
	if f == nil {
		return nil
	}
	v := float64(*f)
	return &v
}

type rawPosition struct {
	CarID     json.RawMessage `json:"carId"`
	Latitude  *flexFloat      `json:"latitude"`
	Longitude *flexFloat      `json:"longitude"`
	Speed     *flexFloat      `json:"speed"`
	Course    *flexFloat      `json:"course"`
}

type rawAlert struct {
	CarID   json.RawMessage `json:"carId"`
	Message json.RawMessage `json:"message"`
}

// Parser provides pure payload -> core struct conversion.
// It has zero external dependencies beyond a logger.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a new parser with only a logger dependency
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// decodeID turns a raw carId into a number or string for util.CanonicalID.
func decodeID(raw json.RawMessage) any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	return v
}

// elements splits a payload that is either a JSON array or a single object.
func elements(payload []byte) ([]json.RawMessage, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		return nil, ErrEmptyPayload
	}
	if payload[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(payload, &items); err != nil {
			return nil, fmt.Errorf("error unmarshalling payload array: %w", err)
		}
		return items, nil
	}
	if payload[0] == '{' {
		return []json.RawMessage{payload}, nil
	}
	return nil, fmt.Errorf("unexpected payload start %q", payload[0])
}

// ParseLocationUpdate parses a locationUpdate batch. Elements that fail to
// decode are logged and skipped; coordinate validation is left to the registry.
func (p *Parser) ParseLocationUpdate(payload []byte) ([]core.RawPositionEvent, error) {
	items, err := elements(payload)
	if err != nil {
		return nil, err
	}

	events := make([]core.RawPositionEvent, 0, len(items))
	for i, item := range items {
		var rp rawPosition
		if err := json.Unmarshal(item, &rp); err != nil {
			p.logger.Warn("Skipping malformed position", "index", i, "error", err)
			continue
		}
		events = append(events, core.RawPositionEvent{
			CarID:     decodeID(rp.CarID),
			Latitude:  rp.Latitude.ptr(),
			Longitude: rp.Longitude.ptr(),
			Speed:     rp.Speed.ptr(),
			Course:    rp.Course.ptr(),
		})
	}

	p.logger.Debug("Parsed location update", "received", len(items), "parsed", len(events))
	return events, nil
}

func (p *Parser) parseAlert(item json.RawMessage) (core.AlertEvent, error) {
	var ra rawAlert
	if err := json.Unmarshal(item, &ra); err != nil {
		return core.AlertEvent{}, fmt.Errorf("error unmarshalling alert: %w", err)
	}

	ev := core.AlertEvent{CarID: decodeID(ra.CarID)}
	if _, err := util.CanonicalID(ev.CarID); err != nil {
		return core.AlertEvent{}, err
	}

	switch msg := decodeID(ra.Message).(type) {
	case string:
		ev.Message = strings.TrimSpace(msg)
	case json.Number:
		ev.Message = msg.String()
	}
	if ev.Message == "" {
		return core.AlertEvent{}, ErrMissingMessage
	}
	return ev, nil
}

// ParseSos parses an sos payload {carId, message}.
func (p *Parser) ParseSos(payload []byte) (core.AlertEvent, error) {
	return p.parseFirst(payload)
}

// ParseWarning parses a warning payload {carId, message}.
func (p *Parser) ParseWarning(payload []byte) (core.AlertEvent, error) {
	return p.parseFirst(payload)
}

// ParseOk parses an ok payload. The transport sends an array; only the first
// element is consulted and the rest are ignored.
func (p *Parser) ParseOk(payload []byte) (core.AlertEvent, error) {
	return p.parseFirst(payload)
}

func (p *Parser) parseFirst(payload []byte) (core.AlertEvent, error) {
	items, err := elements(payload)
	if err != nil {
		return core.AlertEvent{}, err
	}
	if len(items) == 0 {
		return core.AlertEvent{}, ErrEmptyPayload
	}
	if len(items) > 1 {
		p.logger.Debug("Ignoring extra alert elements", "count", len(items)-1)
	}
	return p.parseAlert(items[0])
}
