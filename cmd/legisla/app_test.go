package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "legisla/internal/jwt_token"
	plenarymodels "legisla/internal/plenary/models"
	"legisla/internal/platform/config"
	"legisla/pkg/testutil"
)

// =============================================================================
// Process Wiring Tests
// =============================================================================
// Justification for unit tests: the binary is the only place every bounded
// context, the JWT validator and the roster seed meet. One in-memory app is
// built per test binary because the metrics register on the default registry.

const rosterYAML = `
committees:
  - id: 6f1c9a4e-2d7b-4b8e-9a55-0c3f7e1d2a10
    name: Finance
    members:
      - id: 0b8e2f7a-5c1d-4e3a-8f6b-9d2c1a7e4b30
        name: Ana
      - id: 7d3a1c9e-8b2f-4a6d-b5e0-1f4c7a2d9e61
        name: Bruno
        active: false
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	seed := filepath.Join(t.TempDir(), "roster.yaml")
	require.NoError(t, os.WriteFile(seed, []byte(rosterYAML), 0o600))

	return config.Config{
		Server: config.Server{Addr: ":0", LogLevel: "error", RequestTimeout: 5 * time.Second},
		Redis:  config.RedisConfig{ResultTTL: time.Hour},
		Auth: config.AuthConfig{
			JWTSigningKey: "wiring-test-key",
			Issuer:        "wiring-test",
			Audience:      "legisla",
		},
		Plenary: config.PlenaryConfig{QuorumMinimum: 1},
		Roster:  config.RosterConfig{SeedFile: seed},
		Tx:      config.TxConfig{Timeout: time.Second},
	}
}

func bearer(t *testing.T, cfg config.Config, role string) string {
	t.Helper()
	claims := jwttoken.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			Issuer:    cfg.Auth.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Auth.Audience},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Auth.JWTSigningKey))
	require.NoError(t, err)
	return "Bearer " + token
}

func TestBuildApp_InMemoryServesEveryContext(t *testing.T) {
	cfg := testConfig(t)
	a, err := buildApp(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })

	operator := bearer(t, cfg, "operator")
	legislator := bearer(t, cfg, "legislator")

	rr := testutil.DoRequest(a.handler, testutil.NewRequest(t, http.MethodGet, "/readyz"))
	testutil.AssertStatus(t, rr, http.StatusOK)

	create := func(auth string) *http.Request {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/sessions", map[string]any{
			"title":         "Ordinary",
			"scheduled_for": time.Now().UTC().Format(time.RFC3339),
		})
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		return req
	}

	rr = testutil.DoRequest(a.handler, create(""))
	testutil.AssertStatus(t, rr, http.StatusUnauthorized)

	rr = testutil.DoRequest(a.handler, create(legislator))
	testutil.AssertStatus(t, rr, http.StatusForbidden)

	rr = testutil.DoRequest(a.handler, create(operator))
	testutil.AssertStatus(t, rr, http.StatusCreated)
	session := testutil.UnmarshalResponse[plenarymodels.Session](t, rr)

	snapReq := testutil.NewRequest(t, http.MethodGet, "/sync/sessions/"+session.ID.String())
	snapReq.Header.Set("Authorization", legislator)
	rr = testutil.DoRequest(a.handler, snapReq)
	testutil.AssertStatus(t, rr, http.StatusOK)
	etag := rr.Header().Get("ETag")
	require.NotEmpty(t, etag)

	again := testutil.NewRequest(t, http.MethodGet, "/sync/sessions/"+session.ID.String())
	again.Header.Set("Authorization", legislator)
	again.Header.Set("If-None-Match", etag)
	rr = testutil.DoRequest(a.handler, again)
	assert.Equal(t, http.StatusNotModified, rr.Code)

	for _, path := range []string{"/propositions", "/opinions?proposition_id=" + uuid.NewString(), "/attendance/" + session.ID.String()} {
		req := testutil.NewRequest(t, http.MethodGet, path)
		rr = testutil.DoRequest(a.handler, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, path)
	}
}

func TestBuildApp_RejectsMissingSeedFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Roster.SeedFile = filepath.Join(t.TempDir(), "absent.yaml")

	_, err := buildApp(context.Background(), cfg, slog.New(slog.DiscardHandler))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open roster seed")
}

func TestRootCmd_Version(t *testing.T) {
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.True(t, strings.HasPrefix(out.String(), "legisla version "))
}

func TestRootCmd_MigrateRequiresPostgres(t *testing.T) {
	t.Setenv("LEGISLA_DATABASE_URL", "")
	cmd := rootCmd()
	cmd.SetArgs([]string{"migrate", "--env-file", filepath.Join(t.TempDir(), "none.env")})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LEGISLA_DATABASE_URL")
}
