package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "legisla/pkg/domain"
	dErrors "legisla/pkg/domain-errors"
)

func TestNewProposition(t *testing.T) {
	now := time.Date(2025, 2, 3, 9, 0, 0, 0, time.UTC)
	propID := id.PropositionID(uuid.New())

	t.Run("valid proposition starts submitted", func(t *testing.T) {
		p, err := NewProposition(propID, TypeBill, 12, 2025, "  Street lighting  ", "", now)
		require.NoError(t, err)
		assert.Equal(t, StatusSubmitted, p.Status)
		assert.Equal(t, "Street lighting", p.Title)
		assert.Equal(t, int64(1), p.Version)
		assert.Equal(t, "BILL 12/2025", p.Label())
	})

	cases := []struct {
		name   string
		typ    Type
		number int
		year   int
		title  string
	}{
		{"unknown type", Type("PETITION"), 1, 2025, "x"},
		{"zero number", TypeBill, 0, 2025, "x"},
		{"ancient year", TypeBill, 1, 1200, "x"},
		{"blank title", TypeBill, 1, 2025, "   "},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewProposition(propID, tc.typ, tc.number, tc.year, tc.title, "", now)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestVeto(t *testing.T) {
	now := time.Now()
	p, err := NewProposition(id.PropositionID(uuid.New()), TypeBill, 1, 2025, "Budget", "", now)
	require.NoError(t, err)

	require.Error(t, p.CanVeto())

	p.ApplyStatus(StatusApproved, now)
	require.NoError(t, p.CanVeto())
	p.ApplyVeto(now)
	assert.Equal(t, StatusVetoed, p.Status)
	assert.True(t, dErrors.HasCode(p.CanVeto(), dErrors.CodeInvalidState))
}
