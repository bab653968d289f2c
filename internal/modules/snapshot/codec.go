package snapshot

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var (
	ErrNotFound        = errors.New("snapshot not found")
	ErrCorruptSnapshot = errors.New("corrupt snapshot")
	ErrStaleSnapshot   = errors.New("snapshot changed since it was loaded")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func Encode(s Snapshot) ([]byte, error) {
	return json.Marshal(s)
}

// Decode rejects anything that does not describe a reachable conversation.
func Decode(b []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(b, &s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if s.ConversationID == "" {
		return Snapshot{}, fmt.Errorf("%w: missing conversation id", ErrCorruptSnapshot)
	}
	if !s.FSM.State.Valid() {
		return Snapshot{}, fmt.Errorf("%w: unknown state %q", ErrCorruptSnapshot, s.FSM.State)
	}
	if s.FSM.Data.Services == nil {
		s.FSM.Data.Services = []string{}
	}
	if s.Transcript == nil {
		s.Transcript = []Turn{}
	}
	return s, nil
}
