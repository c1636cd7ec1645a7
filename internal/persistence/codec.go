package persistence

import (
	"bytes"
	"encoding/gob"
	"errors"
	"time"

	"github.com/petrijr/sconcur/pkg/api"
)

// outcomeRecord is the gob wire form of an api.Outcome. FinishedAt is not
// serialized by api.Outcome's JSON tags, so it travels explicitly.
type outcomeRecord struct {
	FlowKey     string
	TaskKey     string
	Method      int
	Status      string
	Result      string
	Error       string
	ExecutionMs int64
	FinishedAt  int64
}

var errEmptyRecord = errors.New("empty outcome record")

func encodeOutcome(out api.Outcome) ([]byte, error) {
	finished := out.FinishedAt
	if finished.IsZero() {
		finished = time.Now()
	}
	rec := outcomeRecord{
		FlowKey:     out.FlowKey,
		TaskKey:     out.TaskKey,
		Method:      int(out.Method),
		Status:      string(out.Status),
		Result:      out.Result,
		Error:       out.Error,
		ExecutionMs: out.ExecutionMs,
		FinishedAt:  finished.UnixNano(),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeOutcome(data []byte) (api.Outcome, error) {
	if len(data) == 0 {
		return api.Outcome{}, errEmptyRecord
	}
	var rec outcomeRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return api.Outcome{}, err
	}
	return api.Outcome{
		FlowKey:     rec.FlowKey,
		TaskKey:     rec.TaskKey,
		Method:      api.Method(rec.Method),
		Status:      api.TaskStatus(rec.Status),
		Result:      rec.Result,
		Error:       rec.Error,
		ExecutionMs: rec.ExecutionMs,
		FinishedAt:  time.Unix(0, rec.FinishedAt),
	}, nil
}
