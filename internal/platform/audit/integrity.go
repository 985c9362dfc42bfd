package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// ChecksumLength is the fixed length of a rendered checksum: SHA-256 output
// as lowercase hex.
const ChecksumLength = 64

// Sealer derives and verifies the keyed checksum that makes audit events
// tamper-evident. It holds one current signing key used to seal new events
// and any number of previous keys accepted during verification, so that key
// rotation never invalidates historical events.
//
// The checksum is an HMAC-SHA256 over the event's canonical serialization.
// An unkeyed hash would let anyone with database access recompute a valid
// checksum after editing history; the MAC binds validity to a deployment
// secret stored apart from the data.
type Sealer struct {
	current  []byte
	previous [][]byte
}

// NewSealer creates a Sealer from a 32-byte current key and zero or more
// previous keys retained for verification after rotation.
func NewSealer(current []byte, previous ...[]byte) (*Sealer, error) {
	if len(current) != 32 {
		return nil, fmt.Errorf("sealer: current key must be 32 bytes, got %d", len(current))
	}
	for i, key := range previous {
		if len(key) != 32 {
			return nil, fmt.Errorf("sealer: previous key %d must be 32 bytes, got %d", i, len(key))
		}
	}
	keys := make([][]byte, len(previous))
	copy(keys, previous)
	return &Sealer{current: current, previous: keys}, nil
}

// Seal computes the checksum for an event and its detail rows under the
// current key. The result is deterministic: the same event content and key
// produce the same checksum on every call, on every machine.
func (s *Sealer) Seal(event *Event, details []Detail) (string, error) {
	payload, err := canonicalPayload(event, details)
	if err != nil {
		return "", err
	}
	return s.mac(s.current, payload), nil
}

// Verify recomputes the checksum from the event's current detail rows and
// compares it against the stored checksum in constant time, trying the
// current key first and then each previous key. A false result means the
// event or its details no longer match what was sealed.
func (s *Sealer) Verify(event *Event, details []Detail) (bool, error) {
	payload, err := canonicalPayload(event, details)
	if err != nil {
		return false, err
	}

	stored := []byte(event.Checksum)
	for _, key := range append([][]byte{s.current}, s.previous...) {
		computed := []byte(s.mac(key, payload))
		if hmac.Equal(computed, stored) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Sealer) mac(key, payload []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalPayload serializes the content an event commits to. Detail rows
// fold into oldData/newData maps keyed by field name. json.Marshal emits map
// keys in lexicographic order with no whitespace, which gives the stable,
// unambiguous encoding the checksum requires; the surrogate id, checksum and
// verified flag are deliberately outside the sealed content.
func canonicalPayload(event *Event, details []Detail) ([]byte, error) {
	oldData := make(map[string]*string, len(details))
	newData := make(map[string]*string, len(details))
	for _, d := range details {
		oldData[d.FieldName] = d.OldValue
		newData[d.FieldName] = d.NewValue
	}

	content := map[string]any{
		"action":     string(event.Action),
		"actorId":    event.ActorID,
		"actorName":  event.ActorName,
		"entityType": event.EntityType,
		"newData":    newData,
		"occurredAt": event.OccurredAt.UTC().Format(time.RFC3339),
		"oldData":    oldData,
		"reason":     event.Reason,
		"subjectId":  event.SubjectID,
	}

	payload, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("canonicalize audit event: %w", err)
	}
	return payload, nil
}
