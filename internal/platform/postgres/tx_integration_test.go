//go:build integration

package postgres_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"legisla/internal/platform/postgres"
	txcontext "legisla/pkg/platform/tx"
	"legisla/pkg/testutil/containers"
)

type TxRunnerSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	runner   *postgres.TxRunner
}

func TestTxRunnerSuite(t *testing.T) {
	suite.Run(t, new(TxRunnerSuite))
}

func (s *TxRunnerSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.runner = postgres.NewTxRunner(s.postgres.DB, 10*time.Second)
	_, err := s.postgres.DB.Exec(`CREATE TABLE IF NOT EXISTS tx_runner_counters (key TEXT PRIMARY KEY, n INT NOT NULL)`)
	s.Require().NoError(err)
}

func (s *TxRunnerSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "tx_runner_counters"))
	_, err := s.postgres.DB.ExecContext(ctx, `INSERT INTO tx_runner_counters (key, n) VALUES ('session', 0)`)
	s.Require().NoError(err)
}

// increment reads then writes the counter, so two calls on stale snapshots
// would fail serialization or lose an update.
func (s *TxRunnerSuite) increment(ctx context.Context) error {
	return s.runner.RunInTx(ctx, []string{"session:counter"}, func(ctx context.Context) error {
		tx, _ := txcontext.From(ctx)
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT n FROM tx_runner_counters WHERE key = 'session'`).Scan(&n); err != nil {
			return err
		}
		time.Sleep(5 * time.Millisecond)
		_, err := tx.ExecContext(ctx, `UPDATE tx_runner_counters SET n = $1 WHERE key = 'session'`, n+1)
		return err
	})
}

func (s *TxRunnerSuite) TestCallsSharingAKeyRunOneAfterAnother() {
	const workers = 10
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.increment(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.NoError(err)
	}

	var n int
	s.Require().NoError(s.postgres.DB.QueryRowContext(ctx, `SELECT n FROM tx_runner_counters WHERE key = 'session'`).Scan(&n))
	s.Equal(workers, n)
}

func (s *TxRunnerSuite) TestLocksAreReleased() {
	ctx := context.Background()
	s.Require().NoError(s.increment(ctx))

	var held int
	s.Require().NoError(s.postgres.DB.QueryRowContext(ctx,
		`SELECT count(*) FROM pg_locks WHERE locktype = 'advisory'`).Scan(&held))
	s.Zero(held)
}
