package fitq

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

// Encoder serializes task envelopes, payloads and status records for the
// broker. Encode goes through the standard library; Decode goes through
// sonic, which sits on the hot dequeue path.
type Encoder interface {
	Encode(any) ([]byte, error)
	Decode([]byte, any) error
}

// JSONEncoder is the default Encoder.
type JSONEncoder struct{}

func (*JSONEncoder) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (*JSONEncoder) Decode(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// decodeEnvelope decodes a pending-list entry into a task and rejects
// structurally empty envelopes, so a foreign or corrupted list entry cannot
// masquerade as a deliverable task.
func decodeEnvelope(e Encoder, raw []byte) (*Task, error) {
	var task Task
	if err := e.Decode(raw, &task); err != nil {
		return nil, err
	}
	if task.ID == "" || task.Type == "" {
		return nil, fmt.Errorf("fitq: malformed task envelope")
	}
	return &task, nil
}
