package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/platinummonkey/newswire/pkg/observability"
	"github.com/platinummonkey/newswire/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
}

func newPingMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func TestParseReplicaURLs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{name: "empty string", input: "", expected: nil},
		{name: "single URL", input: "postgres://localhost:5432/db", expected: []string{"postgres://localhost:5432/db"}},
		{
			name:     "whitespace and empty entries",
			input:    " postgres://h1/db , ,postgres://h2/db,",
			expected: []string{"postgres://h1/db", "postgres://h2/db"},
		},
		{name: "only commas", input: " , , ", expected: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseReplicaURLs(tt.input))
		})
	}
}

func TestConnectionConfigFrom(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.PostgresURL = "postgres://primary/db"
	cfg.PostgresReplicaURLs = "postgres://r1/db,postgres://r2/db"

	cc := ConnectionConfigFrom(cfg)
	assert.Equal(t, "postgres://primary/db", cc.PrimaryURL)
	assert.Len(t, cc.ReplicaURLs, 2)
	assert.Equal(t, cfg.PostgresMaxConns, cc.MaxConns)
	assert.Equal(t, cfg.PostgresTimeout, cc.Timeout)
}

func TestConnectionManager_Replica(t *testing.T) {
	primary, _ := newPingMock(t)

	t.Run("no replicas falls back to primary", func(t *testing.T) {
		cm := NewConnectionManagerFromDB(primary, nil, testLogger())
		assert.Same(t, primary, cm.Replica())
	})

	t.Run("round robin", func(t *testing.T) {
		r1, _ := newPingMock(t)
		r2, _ := newPingMock(t)
		cm := NewConnectionManagerFromDB(primary, []*sql.DB{r1, r2}, testLogger())

		selections := make(map[*sql.DB]int)
		for i := 0; i < 10; i++ {
			selections[cm.Replica()]++
		}
		assert.Equal(t, 5, selections[r1])
		assert.Equal(t, 5, selections[r2])
		assert.Zero(t, selections[primary])
	})
}

func TestConnectionManager_HealthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		primary, pm := newPingMock(t)
		replica, rm := newPingMock(t)
		pm.ExpectPing()
		rm.ExpectPing()

		cm := NewConnectionManagerFromDB(primary, []*sql.DB{replica}, testLogger())
		assert.NoError(t, cm.HealthCheck(context.Background()))
	})

	t.Run("primary down", func(t *testing.T) {
		primary, pm := newPingMock(t)
		pm.ExpectPing().WillReturnError(errors.New("refused"))

		cm := NewConnectionManagerFromDB(primary, nil, testLogger())
		err := cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "primary unhealthy")
	})

	t.Run("all replicas down", func(t *testing.T) {
		primary, pm := newPingMock(t)
		replica, rm := newPingMock(t)
		pm.ExpectPing()
		rm.ExpectPing().WillReturnError(errors.New("refused"))

		cm := NewConnectionManagerFromDB(primary, []*sql.DB{replica}, testLogger())
		err := cm.HealthCheck(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "all replicas unhealthy")
	})
}

func TestConnectionManager_RemoveUnhealthyReplicas(t *testing.T) {
	primary, _ := newPingMock(t)
	good, gm := newPingMock(t)
	bad, bm := newPingMock(t)
	gm.ExpectPing()
	bm.ExpectPing().WillReturnError(errors.New("gone"))
	bm.ExpectClose()

	cm := NewConnectionManagerFromDB(primary, []*sql.DB{good, bad}, testLogger())
	removed := cm.RemoveUnhealthyReplicas(context.Background())

	assert.Equal(t, 1, removed)
	assert.Same(t, good, cm.Replica())
	assert.Len(t, cm.Stats().Replicas, 1)
}

func TestConnectionManager_Close(t *testing.T) {
	primary, pm := newPingMock(t)
	replica, rm := newPingMock(t)
	pm.ExpectClose()
	rm.ExpectClose()

	cm := NewConnectionManagerFromDB(primary, []*sql.DB{replica}, testLogger())
	assert.NoError(t, cm.Close())
	assert.NoError(t, pm.ExpectationsWereMet())
	assert.NoError(t, rm.ExpectationsWereMet())
}
