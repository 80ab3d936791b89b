package gateway

import (
	"errors"

	"squeeze-chart/internal/session"
)

// Gesture types sent by the renderer over /ws.
const (
	GesturePanStart = "PAN_START"
	GesturePanMove  = "PAN_MOVE"
	GesturePanEnd   = "PAN_END"
	GestureZoom     = "ZOOM"
	GestureHover    = "HOVER"
	GestureLeave    = "LEAVE"
	GestureResize   = "RESIZE"
)

// GestureMsg is an inbound websocket message. Fields unused by a type are ignored.
type GestureMsg struct {
	Type      string  `json:"type"`
	Pointer   string  `json:"pointer,omitempty"`
	DX        float64 `json:"dx,omitempty"`
	Velocity  float64 `json:"velocity,omitempty"`
	Direction float64 `json:"direction,omitempty"` // >0 zooms in
	X         float64 `json:"x,omitempty"`
	Y         float64 `json:"y,omitempty"`
	Width     float64 `json:"width,omitempty"`
	Height    float64 `json:"height,omitempty"`
	Ping      int64   `json:"ping,omitempty"`
}

var errBadResize = errors.New("resize needs positive width and height")

type unknownGestureError struct{ typ string }

func (e *unknownGestureError) Error() string { return "unknown gesture type " + e.typ }

// ErrorResp is the error body of REST and websocket replies.
type ErrorResp struct {
	Type  string `json:"type,omitempty"`
	Error string `json:"error"`
}

// SelectReq switches the feed instrument.
type SelectReq struct {
	Symbol string `json:"symbol"`
	Period string `json:"period"`
}

// DetectionResp answers detection/start.
type DetectionResp struct {
	Boxes  int            `json:"boxes"`
	Status session.Status `json:"status"`
}
