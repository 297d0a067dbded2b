package main

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/PaulBabatuyi/consentChat-gRPC/internal/events"
	"google.golang.org/protobuf/types/known/structpb"
)

var errBadEnvelope = errors.New("event envelope must carry an event name")

// encodeEvent renders ev as the {"event", "data"} envelope sent on Connect.
func encodeEvent(ev events.Event) (*structpb.Struct, error) {
	payload := ev.Data
	if payload == nil {
		payload = map[string]any{}
	}
	msg, err := structpb.NewStruct(map[string]any{"event": ev.Name, "data": payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Name, err)
	}
	return msg, nil
}

// decodeEvent splits an inbound envelope into its name and payload.
func decodeEvent(msg *structpb.Struct) (string, map[string]any, error) {
	fields := msg.GetFields()
	name := strings.TrimSpace(fields["event"].GetStringValue())
	if name == "" {
		return "", nil, errBadEnvelope
	}
	payload := map[string]any{}
	if d := fields["data"].GetStructValue(); d != nil {
		payload = d.AsMap()
	}
	return name, payload, nil
}

// stringField reads a string from a decoded payload; other types read as "".
func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// intField reads a non-negative whole number; def is returned otherwise.
func intField(m map[string]any, key string, def int64) int64 {
	f, ok := m[key].(float64)
	if !ok || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return def
	}
	return int64(f)
}

// boolField reads a boolean, treating a missing key as def.
func boolField(m map[string]any, key string, def bool) bool {
	b, ok := m[key].(bool)
	if !ok {
		return def
	}
	return b
}

// requestFields flattens a unary request for the field helpers.
func requestFields(req *structpb.Struct) map[string]any {
	if req == nil {
		return map[string]any{}
	}
	return req.AsMap()
}
