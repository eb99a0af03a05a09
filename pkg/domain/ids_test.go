package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "legisla/pkg/domain-errors"
)

// IDs must be valid, non-empty, non-nil UUIDs.
func TestParseUUID_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseMemberID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseMemberID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseMemberID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		validUUID := uuid.New()
		id, err := ParseMemberID(validUUID.String())
		require.NoError(t, err)
		assert.Equal(t, MemberID(validUUID), id)
	})
}

func TestParseID_RejectsHostileInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"SQL injection attempt", "'; DROP TABLE propositions;--", true},
		{"Path traversal", "../../../etc/passwd", true},
		{"Null byte injection", "550e8400\x00-e29b-41d4-a716-446655440000", true},
		{"Oversized input", strings.Repeat("a", 1000), true},
		{"Unicode zero-width space", "550e8400​-e29b-41d4-a716-446655440000", true},

		{"Empty string", "", true},
		{"Nil UUID", uuid.Nil.String(), true},
		{"Whitespace only", "   ", true},
		{"Uppercase valid UUID", "550E8400-E29B-41D4-A716-446655440000", false},

		{"Valid UUID lowercase", "550e8400-e29b-41d4-a716-446655440000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePropositionID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestAllIDTypes_ConsistentBehavior(t *testing.T) {
	parsers := map[string]func(string) error{
		"proposition": func(s string) error { _, err := ParsePropositionID(s); return err },
		"step":        func(s string) error { _, err := ParseStepID(s); return err },
		"session":     func(s string) error { _, err := ParseSessionID(s); return err },
		"agenda_item": func(s string) error { _, err := ParseAgendaItemID(s); return err },
		"member":      func(s string) error { _, err := ParseMemberID(s); return err },
		"committee":   func(s string) error { _, err := ParseCommitteeID(s); return err },
		"opinion":     func(s string) error { _, err := ParseOpinionID(s); return err },
	}

	validUUID := uuid.New().String()
	for name, parse := range parsers {
		t.Run(name+" accepts valid UUID", func(t *testing.T) {
			require.NoError(t, parse(validUUID))
		})
		for _, input := range []string{"", "invalid", uuid.Nil.String()} {
			t.Run(name+" rejects "+input, func(t *testing.T) {
				err := parse(input)
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
			})
		}
	}
}

func TestIDs_EncodeAsUUIDStrings(t *testing.T) {
	raw := uuid.New()
	body, err := json.Marshal(struct {
		ID OpinionID `json:"id"`
	}{ID: OpinionID(raw)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"`+raw.String()+`"}`, string(body))

	var decoded struct {
		ID OpinionID `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, OpinionID(raw), decoded.ID)
}

func TestMemberSet(t *testing.T) {
	a := MemberID(uuid.New())
	b := MemberID(uuid.New())

	set := NewMemberSet([]MemberID{a, b, a, MemberID(uuid.Nil)})

	assert.Len(t, set, 2)
	assert.True(t, set.Contains(a))
	assert.True(t, set.Contains(b))
	assert.False(t, set.Contains(MemberID(uuid.New())))

	slice := set.Slice()
	require.Len(t, slice, 2)
	assert.Less(t, slice[0].String(), slice[1].String())
}
