package routing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	propmodels "legisla/internal/proposition/models"
)

func TestDefaultCatalogIsValid(t *testing.T) {
	c := Default()
	for _, pt := range propmodels.Types {
		entry, err := c.Entry(pt)
		require.NoError(t, err, pt)
		assert.Equal(t, TypeProtocol, entry.RoutingType, pt)
	}
}

func TestNext(t *testing.T) {
	c := Default()

	tests := []struct {
		name    string
		pt      propmodels.Type
		current Type
		want    Type
		wantErr error
	}{
		{"bill goes from protocol to legal committee", propmodels.TypeBill, TypeProtocol, TypeCommitteeLegal, nil},
		{"bill goes from legal to finance", propmodels.TypeBill, TypeCommitteeLegal, TypeCommitteeFinance, nil},
		{"bill goes from plenary to executive", propmodels.TypeBill, TypePlenary, TypeExecutive, nil},
		{"bill stops at executive", propmodels.TypeBill, TypeExecutive, "", ErrTerminal},
		{"motion skips committees", propmodels.TypeMotion, TypeProtocol, TypePlenary, nil},
		{"motion ends at plenary", propmodels.TypeMotion, TypePlenary, "", ErrTerminal},
		{"resolution never visits finance", propmodels.TypeResolution, TypeCommitteeFinance, "", ErrNoRoute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := c.Next(tt.pt, tt.current)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, next.RoutingType)
			assert.NotEmpty(t, next.TargetUnit)
		})
	}
}

func TestIsTerminal(t *testing.T) {
	c := Default()
	assert.True(t, c.IsTerminal(propmodels.TypeBill, TypeExecutive))
	assert.False(t, c.IsTerminal(propmodels.TypeBill, TypePlenary))
	assert.True(t, c.IsTerminal(propmodels.TypeRequest, TypePlenary))
}

func TestRouteIsACopy(t *testing.T) {
	c := Default()
	route := c.Route(propmodels.TypeBill)
	require.Len(t, route, 5)
	route[0].RoutingType = TypeExecutive

	again := c.Route(propmodels.TypeBill)
	assert.Equal(t, TypeProtocol, again[0].RoutingType)
}

func TestParse_RejectsInvalidCatalogs(t *testing.T) {
	validRoutes := `
  RESOLUTION: [PROTOCOL]
  DECREE: [PROTOCOL]
  AMENDMENT: [PROTOCOL]
  MOTION: [PROTOCOL]
  REQUEST: [PROTOCOL]
`
	tests := []struct {
		name string
		yaml string
		msg  string
	}{
		{
			name: "unknown unit",
			yaml: "units:\n  PROTOCOL: P\nroutes:\n  BILL: [PROTOCOL, SENATE]" + validRoutes,
			msg:  "unknown unit",
		},
		{
			name: "repeated unit",
			yaml: "units:\n  PROTOCOL: P\nroutes:\n  BILL: [PROTOCOL, PROTOCOL]" + validRoutes,
			msg:  "twice",
		},
		{
			name: "missing type",
			yaml: "units:\n  PROTOCOL: P\nroutes:" + validRoutes,
			msg:  "no route for BILL",
		},
		{
			name: "malformed yaml",
			yaml: "units: [",
			msg:  "parse catalog",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}
