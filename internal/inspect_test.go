package internal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		for i := 0; i < 5; i++ {
			if err := txn.Set([]byte(fmt.Sprintf("conn:c%d", i)), []byte("value")); err != nil {
				return err
			}
		}
		return txn.Set([]byte("msg:m1"), []byte("x"))
	}))
	return db
}

func TestScan_Prefix_And_Limit(t *testing.T) {
	req := require.New(t)
	db := seed(t)

	rows, err := Scan(db, "conn:", 3, nil)
	req.NoError(err)
	req.Len(rows, 3)
	req.Equal("conn", rows[0].Namespace)
	req.Equal("c0", rows[0].EntityID)
	req.Equal("Size: 5 bytes", rows[0].Detail)

	rows, err = Scan(db, "msg:", 0, nil)
	req.NoError(err)
	req.Len(rows, 1)
}

func TestInspectHandler_Renders_Rows(t *testing.T) {
	req := require.New(t)
	db := seed(t)
	rec := httptest.NewRecorder()

	InspectHandler(db, DefaultMapper).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inspect?prefix=msg:", nil))

	req.Equal(http.StatusOK, rec.Code)
	req.Contains(rec.Body.String(), "msg:m1")
	req.NotContains(rec.Body.String(), "conn:c0")
}
