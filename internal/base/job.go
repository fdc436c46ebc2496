package base

import (
	"encoding/json"
	"strconv"
)

// Job hash field names (spec.md §3's <job> mapping).
const (
	FieldName         = "name"
	FieldData         = "data"
	FieldOpts         = "opts"
	FieldTimestamp    = "timestamp"
	FieldDelay        = "delay"
	FieldPriority     = "priority"
	FieldProcessedOn  = "processedOn"
	FieldFinishedOn   = "finishedOn"
	FieldAttemptsMade = "attemptsMade"
	FieldReturnValue  = "returnvalue"
	FieldFailedReason = "failedReason"
	FieldParentKey    = "parentKey"
	FieldParent       = "parent"
	FieldRJK          = "rjk"
)

// JobRecord is the Go-side view of a job hash, assembled from HGETALL.
type JobRecord struct {
	ID           string
	Name         string
	Data         []byte
	Opts         JobOptions
	Timestamp    int64
	Delay        int64
	Priority     int64
	ProcessedOn  int64
	FinishedOn   int64
	AttemptsMade int
	ReturnValue  []byte
	FailedReason string
	ParentKey    string
	Parent       *ParentRef
	RJK          string
}

// DecodeJobRecord assembles a JobRecord from the field->value map returned
// by HGETALL on a job key. Missing fields are left at their zero value.
func DecodeJobRecord(id string, fields map[string]string) *JobRecord {
	r := &JobRecord{ID: id}
	r.Name = fields[FieldName]
	if v, ok := fields[FieldData]; ok {
		r.Data = []byte(v)
	}
	if v, ok := fields[FieldOpts]; ok && v != "" {
		_ = json.Unmarshal([]byte(v), &r.Opts)
	}
	r.Timestamp = parseInt64(fields[FieldTimestamp])
	r.Delay = parseInt64(fields[FieldDelay])
	r.Priority = parseInt64(fields[FieldPriority])
	r.ProcessedOn = parseInt64(fields[FieldProcessedOn])
	r.FinishedOn = parseInt64(fields[FieldFinishedOn])
	r.AttemptsMade = int(parseInt64(fields[FieldAttemptsMade]))
	if v, ok := fields[FieldReturnValue]; ok {
		r.ReturnValue = []byte(v)
	}
	r.FailedReason = fields[FieldFailedReason]
	r.ParentKey = fields[FieldParentKey]
	if v, ok := fields[FieldParent]; ok && v != "" {
		var p ParentRef
		if err := json.Unmarshal([]byte(v), &p); err == nil {
			r.Parent = &p
		}
	}
	r.RJK = fields[FieldRJK]
	return r
}

func parseInt64(s string) int64 {
	if s == "" {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// EncodeJobOptions marshals JobOptions for storage in the "opts" field.
func EncodeJobOptions(o JobOptions) (string, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// EncodeParentRef marshals a ParentRef for storage in the "parent" field.
func EncodeParentRef(p *ParentRef) (string, error) {
	if p == nil {
		return "", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
