package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendDefaultsActorAndNullsEmptyColumns(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	w := Writer{DB: conn, Now: func() time.Time { return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC) }}
	mock.ExpectExec("INSERT INTO events").
		WithArgs("2024-01-01T09:00:00Z", SweepCompleted, nil, "sweep", nil, SystemActor, nil, "{}").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, w.Append(context.Background(), conn, Entry{Type: SweepCompleted, EntityKind: "sweep"}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogSwallowsStoreFailure(t *testing.T) {
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()

	mock.ExpectExec("INSERT INTO events").WillReturnError(errors.New("disk full"))
	w := Writer{DB: conn}
	w.Log(context.Background(), Entry{Type: AlertOpened, CaseID: "c1", EntityKind: "alert", EntityID: "a1", Payload: Payload{"dedup_key": "STALE_COMMUNICATION"}})
	assert.NoError(t, mock.ExpectationsWereMet())

	Writer{}.Log(context.Background(), Entry{Type: AlertOpened})
}
