// Package sleep implements the sleep method: the task waits for the
// requested number of milliseconds or until it is cancelled.
package sleep

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/petrijr/sconcur/pkg/api"
)

// Payload is the JSON payload of a sleep task. Milliseconds is accepted as
// an alias of MS.
type Payload struct {
	MS           int64 `json:"ms"`
	Milliseconds int64 `json:"milliseconds"`
}

// Result is the JSON result of a completed sleep task.
type Result struct {
	SleptMS int64 `json:"sleptMs"`
}

// maxMS is the longest sleep a time.Duration can represent.
const maxMS = math.MaxInt64 / int64(time.Millisecond)

var (
	errInvalidDuration = errors.New("sleep duration must be greater than zero")
	errDurationTooLong = fmt.Errorf("sleep duration must not exceed %d ms", maxMS)
)

// Handler sleeps for the duration given in the payload.
type Handler struct{}

// New returns a sleep handler.
func New() *Handler {
	return &Handler{}
}

func (h *Handler) Handle(ctx context.Context, req api.Request) (string, error) {
	d, err := parse(req.Payload)
	if err != nil {
		return "", fmt.Errorf("sleep: %w", err)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("sleep interrupted: %w", ctx.Err())
	case <-timer.C:
	}

	out, err := json.Marshal(Result{SleptMS: d.Milliseconds()})
	if err != nil {
		return "", fmt.Errorf("sleep: encode result: %w", err)
	}
	return string(out), nil
}

func parse(payload string) (time.Duration, error) {
	var p Payload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return 0, fmt.Errorf("parse payload: %w", err)
	}

	ms := p.MS
	if ms == 0 {
		ms = p.Milliseconds
	}
	if ms <= 0 {
		return 0, errInvalidDuration
	}
	if ms > maxMS {
		return 0, errDurationTooLong
	}
	return time.Duration(ms) * time.Millisecond, nil
}
