package hue

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Credential is issued by the bridge on a successful pairing exchange.
type Credential struct {
	Username  string `json:"username"`
	ClientKey string `json:"clientkey,omitempty"`
}

// LightState represents the state of a light (v1 API)
type LightState struct {
	On        bool      `json:"on"`
	Bri       uint8     `json:"bri"`
	Hue       *uint16   `json:"hue,omitempty"`
	Sat       *uint8    `json:"sat,omitempty"`
	Effect    string    `json:"effect,omitempty"`
	XY        []float32 `json:"xy,omitempty"`
	CT        uint16    `json:"ct,omitempty"`
	Alert     string    `json:"alert,omitempty"`
	ColorMode string    `json:"colormode,omitempty"`
	Reachable bool      `json:"reachable"`
}

// LightControl describes the dimming and color limits of a light
type LightControl struct {
	MinDimLevel    int         `json:"mindimlevel"`
	MaxLumen       int         `json:"maxlumen"`
	ColorGamutType string      `json:"colorgamuttype,omitempty"`
	ColorGamut     [][]float32 `json:"colorgamut,omitempty"`
	CT             *struct {
		Min uint16 `json:"min"`
		Max uint16 `json:"max"`
	} `json:"ct,omitempty"`
}

// LightCapabilities represents the capabilities block of a light
type LightCapabilities struct {
	Certified bool         `json:"certified"`
	Control   LightControl `json:"control"`
}

// LightConfig represents the config block of a light
type LightConfig struct {
	Archetype string `json:"archetype"`
	Function  string `json:"function"`
	Direction string `json:"direction"`
}

// Light represents a Hue light (v1 API)
type Light struct {
	ID           string            `json:"-"`
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	ModelID      string            `json:"modelid,omitempty"`
	UniqueID     string            `json:"uniqueid,omitempty"`
	ProductName  string            `json:"productname,omitempty"`
	SWVersion    string            `json:"swversion,omitempty"`
	State        LightState        `json:"state"`
	Capabilities LightCapabilities `json:"capabilities"`
	Config       LightConfig       `json:"config"`
}

// GroupState represents the state of a Hue group (v1 API)
type GroupState struct {
	AllOn bool `json:"all_on"`
	AnyOn bool `json:"any_on"`
}

// Group represents a Hue group (v1 API)
type Group struct {
	ID     string     `json:"-"`
	Name   string     `json:"name"`
	Lights []string   `json:"lights"`
	Type   string     `json:"type"`
	Class  string     `json:"class,omitempty"`
	State  GroupState `json:"state"`
	Action LightState `json:"action"`
}

// StateChange is a sparse state update. Nil fields are not transmitted, so the
// corresponding device property is left untouched.
type StateChange struct {
	Bri *uint8  `json:"bri,omitempty"`
	CT  *uint16 `json:"ct,omitempty"`
	On  *bool   `json:"on,omitempty"`
}

// IsEmpty reports whether no field is set.
func (s StateChange) IsEmpty() bool {
	return s.Bri == nil && s.CT == nil && s.On == nil
}

// WithBri returns a copy with brightness set.
func (s StateChange) WithBri(bri uint8) StateChange {
	s.Bri = &bri
	return s
}

// WithCT returns a copy with color temperature (mired) set.
func (s StateChange) WithCT(ct uint16) StateChange {
	s.CT = &ct
	return s
}

// WithOn returns a copy with power set.
func (s StateChange) WithOn(on bool) StateChange {
	s.On = &on
	return s
}

// StateResult holds what the bridge answered to a state change.
type StateResult struct {
	// Raw is the unmodified response body.
	Raw []byte
	// Applied maps attribute addresses to the values the bridge accepted,
	// e.g. "/lights/1/state/bri" -> 254.
	Applied map[string]any
	// Errors lists the error records the bridge returned.
	Errors []APIError
}

type pairRequest struct {
	DeviceType        string `json:"devicetype"`
	GenerateClientKey bool   `json:"generateclientkey"`
}

// result is one element of a v1 response array. Exactly one of Success and
// Error is set after a successful decode.
type result struct {
	Success json.RawMessage
	Error   *APIError
}

func (r *result) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	rawSuccess, hasSuccess := present(fields, "success")
	rawError, hasError := present(fields, "error")
	switch {
	case hasSuccess && hasError:
		return errors.New("result carries both success and error")
	case !hasSuccess && !hasError:
		return errors.New("result carries neither success nor error")
	case hasError:
		var apiErr APIError
		if err := json.Unmarshal(rawError, &apiErr); err != nil {
			return err
		}
		r.Error = &apiErr
	default:
		r.Success = rawSuccess
	}
	return nil
}

// present looks up key in fields; a null value counts as absent.
func present(fields map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := fields[key]
	if !ok || len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, false
	}
	return raw, true
}

// isErrorArray reports whether body looks like a top-level v1 error array,
// which the bridge returns in place of an object for e.g. unauthorized users.
func isErrorArray(body []byte) bool {
	return len(bytes.TrimSpace(body)) > 0 && bytes.TrimSpace(body)[0] == '['
}
