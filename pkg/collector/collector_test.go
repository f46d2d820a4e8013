package collector_test

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/db-monitor/pkg/collector"
	"github.com/db-monitor/pkg/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const (
	sizeQuery  = "SELECT pg_database_size(current_database()) / 1024.0 / 1024.0"
	connsQuery = "SELECT count(*) FROM pg_stat_activity WHERE datname = current_database()"
)

func mockOpener(t *testing.T) (collector.Opener, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	return func(driverName, dsn string) (*sql.DB, error) {
		assert.Equal(t, "postgres", driverName)
		return db, nil
	}, mock
}

func TestRelationalCollect(t *testing.T) {
	open, mock := mockOpener(t)
	mock.ExpectQuery(regexp.QuoteMeta(sizeQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"size"}).AddRow(812.5))
	mock.ExpectQuery(regexp.QuoteMeta(connsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectClose()

	c := collector.NewRelationalWithOpener(open)
	r, err := c.Collect(context.Background(), "postgres://u:p@db:5432/app")
	require.NoError(t, err)

	assert.Equal(t, 20.0, r.CPU)
	assert.Equal(t, 812.5, r.Memory)
	assert.True(t, r.HasStorage)
	assert.Equal(t, 812.5, r.Storage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelationalCollectNullIsZero(t *testing.T) {
	open, mock := mockOpener(t)
	mock.ExpectQuery(regexp.QuoteMeta(sizeQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"size"}).AddRow(nil))
	mock.ExpectQuery(regexp.QuoteMeta(connsQuery)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}))
	mock.ExpectClose()

	r, err := collector.NewRelationalWithOpener(open).Collect(context.Background(), "host=db")
	require.NoError(t, err)
	assert.Equal(t, 0.0, r.CPU)
	assert.Equal(t, 0.0, r.Memory)
}

func TestRelationalCollectQueryError(t *testing.T) {
	open, mock := mockOpener(t)
	mock.ExpectQuery(regexp.QuoteMeta(sizeQuery)).WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	_, err := collector.NewRelationalWithOpener(open).Collect(context.Background(), "host=db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestRelationalOpenError(t *testing.T) {
	c := collector.NewRelationalWithOpener(func(string, string) (*sql.DB, error) {
		return nil, errors.New("bad driver")
	})
	_, err := c.Collect(context.Background(), "host=db")
	assert.ErrorContains(t, err, "bad driver")
}

func TestCPUClampBoundaries(t *testing.T) {
	cases := []struct {
		name string
		got  target.Reading
		want float64
	}{
		{"relational zero", collector.RelationalReading(0, 0), 0},
		{"relational huge", collector.RelationalReading(1, 1<<40), 100},
		{"relational negative", collector.RelationalReading(1, -3), 0},
		{"document zero", collector.DocumentReading(collector.ServerStatus{}), 0},
		{"keyvalue zero", collector.KeyValueReading(map[string]string{"connected_clients": "0"}), 0},
		{"keyvalue huge", collector.KeyValueReading(map[string]string{"connected_clients": "99999999"}), 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.got.CPU)
			assert.GreaterOrEqual(t, tc.got.CPU, 0.0)
			assert.LessOrEqual(t, tc.got.CPU, 100.0)
		})
	}

	huge := collector.ServerStatus{}
	huge.Connections.Current = 1e9
	assert.Equal(t, 100.0, collector.DocumentReading(huge).CPU)
}

func TestDocumentCollect(t *testing.T) {
	raw, err := bson.Marshal(bson.M{
		"mem":         bson.M{"resident": int32(256), "virtual": int32(1024)},
		"connections": bson.M{"current": int32(10), "available": int32(800)},
		"ok":          1.0,
	})
	require.NoError(t, err)

	var seenURI string
	c := collector.NewDocumentWithRunner(func(ctx context.Context, uri string) (collector.ServerStatus, error) {
		seenURI = uri
		var s collector.ServerStatus
		return s, bson.Unmarshal(raw, &s)
	})

	r, err := c.Collect(context.Background(), "mongodb://mongo:27017")
	require.NoError(t, err)
	assert.Equal(t, "mongodb://mongo:27017", seenURI)
	assert.Equal(t, 20.0, r.CPU)
	assert.Equal(t, 256.0, r.Memory)
	assert.False(t, r.HasStorage)
}

func TestDocumentMissingFieldsAreZero(t *testing.T) {
	raw, err := bson.Marshal(bson.M{"ok": 1.0})
	require.NoError(t, err)
	var s collector.ServerStatus
	require.NoError(t, bson.Unmarshal(raw, &s))

	r := collector.DocumentReading(s)
	assert.Equal(t, 0.0, r.CPU)
	assert.Equal(t, 0.0, r.Memory)
}

func TestDocumentRunnerError(t *testing.T) {
	c := collector.NewDocumentWithRunner(func(context.Context, string) (collector.ServerStatus, error) {
		return collector.ServerStatus{}, context.DeadlineExceeded
	})
	_, err := c.Collect(context.Background(), "mongodb://mongo")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

const sampleInfo = "# Memory\r\nused_memory:2097152\r\nused_memory_human:2.00M\r\n\r\n# Clients\r\nconnected_clients:7\r\nblocked_clients:0\r\n"

func TestParseInfo(t *testing.T) {
	info := collector.ParseInfo(sampleInfo)
	assert.Equal(t, "2097152", info["used_memory"])
	assert.Equal(t, "7", info["connected_clients"])
	assert.NotContains(t, info, "# Memory")
}

func TestKeyValueCollect(t *testing.T) {
	c := collector.NewKeyValueWithReader(func(context.Context, string) (string, error) {
		return sampleInfo, nil
	})
	r, err := c.Collect(context.Background(), "localhost:6379")
	require.NoError(t, err)
	assert.Equal(t, 21.0, r.CPU)
	assert.Equal(t, 2.0, r.Memory)
}

func TestKeyValueMissingFieldsAreZero(t *testing.T) {
	r := collector.KeyValueReading(collector.ParseInfo("# Memory\r\nused_memory:abc\r\n"))
	assert.Equal(t, 0.0, r.CPU)
	assert.Equal(t, 0.0, r.Memory)
}

func TestSetLookup(t *testing.T) {
	set := collector.NewSet(collector.NewRelational(), collector.NewDocument(), collector.NewKeyValue())
	for _, k := range []target.EngineKind{target.Relational, target.Document, target.KeyValue} {
		c, err := set.Lookup(k)
		require.NoError(t, err)
		assert.Equal(t, k, c.Kind())
	}
	_, err := set.Lookup(target.EngineKind(0))
	assert.ErrorIs(t, err, target.ErrUnknownEngine)
}

func TestCollectionErrorUnwrap(t *testing.T) {
	err := error(&collector.CollectionError{Target: "orders", Kind: target.KeyValue, Err: context.DeadlineExceeded})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), `"orders"`)
	assert.Contains(t, err.Error(), "Redis")

	var ce *collector.CollectionError
	assert.True(t, errors.As(err, &ce))
}
