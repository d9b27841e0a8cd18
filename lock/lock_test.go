package lock_test

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.hackfix.me/strata/db"
	"go.hackfix.me/strata/lock"
	"go.hackfix.me/strata/lock/table"
	ltypes "go.hackfix.me/strata/lock/types"
)

func TestSetup(t *testing.T) {
	t.Parallel()

	rndName := make([]byte, 12)
	_, err := rand.Read(rndName)
	require.NoError(t, err)

	d, err := db.Open(context.Background(), "sqlite",
		fmt.Sprintf("file:strata-setup-%x?mode=memory&cache=shared", rndName), time.Now)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	logger := slog.New(slog.DiscardHandler)

	t.Run("ok/table", func(t *testing.T) {
		locker, err := lock.Setup(d, ltypes.StrategyTable, logger)
		require.NoError(t, err)
		assert.IsType(t, &table.Lock{}, locker)
	})

	t.Run("ok/auto_without_advisory_support", func(t *testing.T) {
		locker, err := lock.Setup(d, ltypes.StrategyAuto, logger)
		require.NoError(t, err)
		assert.IsType(t, &table.Lock{}, locker)
	})

	t.Run("err/advisory_unsupported", func(t *testing.T) {
		_, err := lock.Setup(d, ltypes.StrategyAdvisory, logger)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "doesn't support advisory locks")
	})

	t.Run("err/unknown_strategy", func(t *testing.T) {
		_, err := lock.Setup(d, ltypes.Strategy("bogus"), logger)
		require.Error(t, err)
	})
}

func TestStrategyFromString(t *testing.T) {
	t.Parallel()

	for _, val := range []string{"auto", "advisory", "table"} {
		s, err := ltypes.StrategyFromString(val)
		require.NoError(t, err)
		assert.Equal(t, ltypes.Strategy(val), s)
	}

	_, err := ltypes.StrategyFromString("optimistic")
	require.Error(t, err)
}
