package internal

import (
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

const defaultInspectLimit = 200

// InspectRow is one Badger key rendered for humans.
type InspectRow struct {
	Key       string
	Type      string
	Namespace string
	EntityID  string
	Timestamp string
	Detail    string
}

type RowMapper func(key string, val []byte) InspectRow

type PageData struct {
	Prefix string
	Items  []InspectRow
}

var inspectTemplate = template.Must(template.New("inspect").Parse(`<!doctype html>
<html><head><title>chat-relay inspector</title></head>
<body>
<form><input name="prefix" value="{{.Prefix}}"><button>scan</button></form>
<table>
<tr><th>Key</th><th>Type</th><th>Namespace</th><th>Entity</th><th>Timestamp</th><th>Detail</th></tr>
{{range .Items}}<tr><td>{{.Key}}</td><td>{{.Type}}</td><td>{{.Namespace}}</td><td>{{.EntityID}}</td><td>{{.Timestamp}}</td><td>{{.Detail}}</td></tr>
{{end}}</table>
</body></html>`))

// Scan maps at most limit keys under prefix. Values are copied out of the transaction.
func Scan(db *badger.DB, prefix string, limit int, mapper RowMapper) ([]InspectRow, error) {
	if mapper == nil {
		mapper = DefaultMapper
	}
	if limit <= 0 {
		limit = defaultInspectLimit
	}
	var rows []InspectRow
	err := db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)) && len(rows) < limit; it.Next() {
			item := it.Item()
			key := string(item.Key())
			if err := item.Value(func(val []byte) error {
				rows = append(rows, mapper(key, val))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	return rows, err
}

// InspectHandler renders a prefix scan as an HTML table: GET ?prefix=conn:&limit=50
func InspectHandler(db *badger.DB, mapper RowMapper) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		prefix := r.URL.Query().Get("prefix")
		if prefix == "" {
			prefix = "conn:"
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		rows, err := Scan(db, prefix, limit, mapper)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_ = inspectTemplate.Execute(w, PageData{Prefix: prefix, Items: rows})
	})
}

// DefaultMapper splits namespace:entity[:rest] keys and reports the value size.
func DefaultMapper(key string, val []byte) InspectRow {
	row := InspectRow{
		Key:       key,
		Type:      "RAW",
		Namespace: "default",
		EntityID:  "--------",
		Timestamp: "--:--:--",
		Detail:    "Size: " + strconv.Itoa(len(val)) + " bytes",
	}
	parts := strings.SplitN(key, ":", 3)
	if len(parts) >= 2 {
		row.Namespace = parts[0]
		row.EntityID = parts[1]
	}
	return row
}
