package types

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// EncodeNodeStatus serializes a node status snapshot for the Data field of a TaskStatus
func EncodeNodeStatus(st NodeStatus) ([]byte, error) {
	ts := timestamppb.New(st.Timestamp)
	s, err := structpb.NewStruct(map[string]interface{}{
		"node_id":   st.NodeID,
		"mode":      string(st.Mode),
		"state":     string(st.State),
		"message":   st.Message,
		"timestamp": ts.AsTime().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build node status: %w", err)
	}
	return proto.Marshal(s)
}

// DecodeNodeStatus parses data produced by EncodeNodeStatus
func DecodeNodeStatus(data []byte) (NodeStatus, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(data, &s); err != nil {
		return NodeStatus{}, fmt.Errorf("failed to decode node status: %w", err)
	}

	fields := s.GetFields()
	str := func(key string) string {
		return fields[key].GetStringValue()
	}

	st := NodeStatus{
		NodeID:  str("node_id"),
		State:   TaskState(str("state")),
		Message: str("message"),
	}

	mode, err := ParseMode(str("mode"))
	if err != nil {
		return NodeStatus{}, err
	}
	st.Mode = mode

	if raw := str("timestamp"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return NodeStatus{}, fmt.Errorf("invalid node status timestamp: %w", err)
		}
		st.Timestamp = t
	}

	return st, nil
}

// ModeFromStatus extracts the node mode carried by a task status, if any
func ModeFromStatus(status TaskStatus) (Mode, bool) {
	if len(status.Data) == 0 {
		return "", false
	}
	st, err := DecodeNodeStatus(status.Data)
	if err != nil {
		return "", false
	}
	return st.Mode, true
}
