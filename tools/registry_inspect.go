// Command registry_inspect prints the relay's Badger keys as a table.
// It opens the database read-only, so it can run next to a live server.
package main

import (
	"chat-relay/internal"
	"chat-relay/repositories"
	"flag"
	"log"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	prefix := flag.String("prefix", "conn:", "Prefix to scan (conn:, user:, msg:, outbox:)")
	limit := flag.Int("limit", 200, "Maximum rows")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	rows, err := internal.Scan(db, *prefix, *limit, repositories.InspectMapper)
	if err != nil {
		log.Fatal("Scan failed: ", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Timestamp", "Entity ID", "Namespace", "Detail"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, row := range rows {
		table.Append([]string{row.Key, colourType(row.Type), row.Timestamp, row.EntityID, row.Namespace, row.Detail})
	}
	table.Render()
	color.Gray.Printf("%d rows under %q\n", len(rows), *prefix)
}

func colourType(t string) string {
	switch t {
	case "CONNECTION":
		return color.Green.Sprint(t)
	case "MESSAGE":
		return color.Cyan.Sprint(t)
	case "OUTBOX":
		return color.Yellow.Sprint(t)
	default:
		return t
	}
}
