package gateway

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/placeboard/placeboard/go/internal/models"
)

// MessageType identifies a server-to-client message.
type MessageType string

const (
	MessageTypeInit  MessageType = "init"
	MessageTypePixel MessageType = "pixel"
	MessageTypeClear MessageType = "clear"
	MessageTypeError MessageType = "error"
)

// Error codes reported to the originating session.
const (
	ErrCodeAuthFailed       = "auth_failed"
	ErrCodeOutOfRange       = "out_of_range"
	ErrCodeRateLimited      = "rate_limited"
	ErrCodeForbidden        = "forbidden"
	ErrCodeMalformedRequest = "malformed_request"
	ErrCodeStorageFailure   = "storage_failure"
)

// InitMessage carries the full board snapshot and the actor's current
// cooldown on connect. The field is spelled "coldown" on the wire for
// compatibility with existing clients.
type InitMessage struct {
	Type    MessageType    `json:"type"`
	Board   []models.Pixel `json:"board"`
	Coldown int            `json:"coldown"`
}

// PixelMessage announces one committed placement.
type PixelMessage struct {
	Type  MessageType `json:"type"`
	X     int         `json:"x"`
	Y     int         `json:"y"`
	Color string      `json:"color"`
}

// ClearMessage lists every cell emptied by an admin clear.
type ClearMessage struct {
	Type MessageType   `json:"type"`
	List []models.Cell `json:"list"`
}

// ErrorMessage is sent only to the session whose request was rejected.
// Seconds is set for rate_limited errors.
type ErrorMessage struct {
	Type    MessageType `json:"type"`
	Error   string      `json:"error"`
	Seconds int         `json:"seconds,omitempty"`
}

// NewInitMessage builds the init payload for a freshly-registered session.
func NewInitMessage(board []models.Pixel, coldownSec int) InitMessage {
	if board == nil {
		board = []models.Pixel{}
	}
	return InitMessage{Type: MessageTypeInit, Board: board, Coldown: coldownSec}
}

// NewPixelMessage builds the broadcast for a committed placement.
func NewPixelMessage(p models.Pixel) PixelMessage {
	return PixelMessage{Type: MessageTypePixel, X: p.X, Y: p.Y, Color: p.Color}
}

// NewClearMessage builds the broadcast for a committed region clear.
func NewClearMessage(cells []models.Cell) ClearMessage {
	if cells == nil {
		cells = []models.Cell{}
	}
	return ClearMessage{Type: MessageTypeClear, List: cells}
}

// NewErrorMessage builds a private rejection notice.
func NewErrorMessage(code string) ErrorMessage {
	return ErrorMessage{Type: MessageTypeError, Error: code}
}

// NewRateLimitedMessage builds a private cooldown notice.
func NewRateLimitedMessage(seconds int) ErrorMessage {
	return ErrorMessage{Type: MessageTypeError, Error: ErrCodeRateLimited, Seconds: seconds}
}

// PlaceRequest is a validated placement request.
type PlaceRequest struct {
	X     int
	Y     int
	Color string
}

// ClearRequest is a validated admin clear request over the inclusive
// rectangle from Start to End.
type ClearRequest struct {
	Start models.Cell
	End   models.Cell
}

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// ValidColor reports whether the color is a hex-encoded RGB value.
func ValidColor(color string) bool {
	return colorPattern.MatchString(color)
}

type clientEnvelope struct {
	Type  *string      `json:"type"`
	X     *int         `json:"x"`
	Y     *int         `json:"y"`
	Color *string      `json:"color"`
	Start *models.Cell `json:"start"`
	End   *models.Cell `json:"end"`
}

// ParseClientMessage decodes an inbound message into a tagged variant:
// *PlaceRequest or *ClearRequest. A missing type tag means a placement.
// Unknown tags and structural violations fail; nothing about the request
// touches shared state before it parses.
func ParseClientMessage(data []byte) (interface{}, error) {
	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}

	tag := "place"
	if env.Type != nil {
		tag = *env.Type
	}

	switch tag {
	case "place":
		if env.X == nil || env.Y == nil || env.Color == nil {
			return nil, fmt.Errorf("placement requires x, y and color")
		}
		if !ValidColor(*env.Color) {
			return nil, fmt.Errorf("color must be a #rrggbb hex value")
		}
		return &PlaceRequest{X: *env.X, Y: *env.Y, Color: *env.Color}, nil

	case "clear":
		if env.Start == nil || env.End == nil {
			return nil, fmt.Errorf("clear requires start and end")
		}
		return &ClearRequest{Start: *env.Start, End: *env.End}, nil

	default:
		return nil, fmt.Errorf("unknown message type %q", tag)
	}
}
