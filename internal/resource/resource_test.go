package resource

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/niyusum/luminescence-sub000/internal/database"
	domainerrors "github.com/niyusum/luminescence-sub000/internal/errors"
	"github.com/niyusum/luminescence-sub000/internal/resilience"
	"github.com/niyusum/luminescence-sub000/internal/store"
)

func playerColumns() []string {
	return []string{
		"id", "discord_id", "username", "created_at", "last_active", "last_level_up",
		"level", "experience", "lumees", "auric_coin", "lumenite",
		"energy", "max_energy", "stamina", "max_stamina", "hp", "max_hp",
		"drop_charges", "last_drop_regen", "stat_points_available",
		"stat_points_spent", "fusion_shards", "total_power", "player_class",
		"stats", "leader_maiden_id",
	}
}

func newPlayerRows(lumees, auric, energy, maxEnergy int64) *sqlmock.Rows {
	return newPlayerRowsWithLeader(lumees, auric, energy, maxEnergy, nil)
}

func newPlayerRowsWithLeader(lumees, auric, energy, maxEnergy int64, leaderMaidenID *int64) *sqlmock.Rows {
	now := time.Now()
	var leader any
	if leaderMaidenID != nil {
		leader = *leaderMaidenID
	}
	return sqlmock.NewRows(playerColumns()).AddRow(
		int64(1), int64(42), "tester", now, now, nil,
		int64(1), int64(0), lumees, auric, int64(0),
		energy, maxEnergy, int64(50), int64(50), int64(500), int64(500),
		int64(0), nil, int64(0),
		[]byte(`{"energy":0,"stamina":0,"hp":0}`), []byte(`{}`), int64(0), "destroyer",
		[]byte(`{}`), leader,
	)
}

func newTestService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := database.NewForTest(mockDB, resilience.New(resilience.DefaultConfig()))
	st := store.New(db)
	return New(db, st.Players, nil, nil, nil, nil), mock
}

func TestGrantAppliesIncomeModifierThenCap(t *testing.T) {
	s, mock := newTestService(t)
	leaderID := int64(7)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM players WHERE discord_id = \$1 FOR UPDATE`).
		WillReturnRows(newPlayerRowsWithLeader(1000, 5, 100, 100, &leaderID))
	mock.ExpectExec("UPDATE players SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s.modifiers = fixedModifiers{"income_boost": 1.2}

	result, err := s.Grant(context.Background(), 42, map[string]int64{"lumees": 100}, "quest", true, "quest", nil)
	require.NoError(t, err)
	require.Equal(t, int64(120), result.Granted["lumees"])
	require.Equal(t, int64(1120), result.NewValues["lumees"])
	require.Empty(t, result.CapsHit)
}

func TestGrantRecordsCapsHitOnOverflow(t *testing.T) {
	s, mock := newTestService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM players WHERE discord_id = \$1 FOR UPDATE`).
		WillReturnRows(newPlayerRows(999990, 5, 100, 100))
	mock.ExpectExec("UPDATE players SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := s.Grant(context.Background(), 42, map[string]int64{"lumees": 100}, "quest", false, "quest", nil)
	require.NoError(t, err)
	require.Equal(t, int64(999999), result.NewValues["lumees"])
	require.Contains(t, result.CapsHit, "lumees")
}

func TestConsumeInsufficientResourcesRollsBack(t *testing.T) {
	s, mock := newTestService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM players WHERE discord_id = \$1 FOR UPDATE`).
		WillReturnRows(newPlayerRows(50, 5, 100, 100))
	mock.ExpectRollback()

	_, err := s.Consume(context.Background(), 42, map[string]int64{"lumees": 100}, "shop", "shop", nil)
	require.Error(t, err)
	require.True(t, domainerrors.Is(err, domainerrors.CodeInsufficientResources))
}

func TestConsumeDebitsAfterValidatingAll(t *testing.T) {
	s, mock := newTestService(t)
	mock.ExpectBegin()
	mock.ExpectQuery(`FROM players WHERE discord_id = \$1 FOR UPDATE`).
		WillReturnRows(newPlayerRows(1000, 5, 100, 100))
	mock.ExpectExec("UPDATE players SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := s.Consume(context.Background(), 42, map[string]int64{"lumees": 100, "auric_coin": 5}, "shop", "shop", nil)
	require.NoError(t, err)
	require.Equal(t, int64(900), result.NewValues["lumees"])
	require.Equal(t, int64(0), result.NewValues["auric_coin"])
}

func TestCheckReadsWithoutLocking(t *testing.T) {
	s, mock := newTestService(t)
	mock.ExpectQuery("FROM players WHERE discord_id").WillReturnRows(newPlayerRows(1000, 5, 100, 100))

	ok, err := s.Check(context.Background(), 42, map[string]int64{"lumees": 500})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckReportsFalseOnShortfall(t *testing.T) {
	s, mock := newTestService(t)
	mock.ExpectQuery("FROM players WHERE discord_id").WillReturnRows(newPlayerRows(10, 5, 100, 100))

	ok, err := s.Check(context.Background(), 42, map[string]int64{"lumees": 500})
	require.NoError(t, err)
	require.False(t, ok)
}

type fixedModifiers map[string]float64

func (f fixedModifiers) ActiveModifiers(ctx context.Context, leaderMaidenID int64) (map[string]float64, error) {
	return f, nil
}
