// Viewer prints the stored chat history as a table. It opens the hub's
// database read-only, so it can run while the hub is up.
package main

import (
	"chat-hub/internal"
	"chat-hub/repositories"
	"fmt"
	"log"
	"os"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
)

func main() {
	// 1. Load config
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		log.Fatalf("Config error: %v", err)
	}
	logger := internal.LoggerFromLevel(config.LogLevel)

	// 2. Open Badger in Read-Only mode
	// BypassLockGuard allows opening while the hub holds the lock.
	opts := badger.DefaultOptions(config.BadgerFilepath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// 3. Fetch and render
	messages := repositories.NewMessageRepository(db, logger)
	records, err := messages.ListRecent(lo.FromPtr(config.LimitMessages))
	if err != nil {
		log.Fatalf("Failed to list messages: %v", err)
	}

	header := color.New(color.BgBlack, color.FgGreen).
		Render(fmt.Sprintf(" chat history (%d messages) ", len(records)))
	fmt.Println(header)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"At", "Author", "Message"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, record := range records {
		author := record.AuthorName
		if record.Bot {
			author = "Assistant"
		}
		table.Append([]string{
			record.At.Local().Format("2006-01-02 15:04:05"),
			author,
			record.Content,
		})
	}
	table.Render()
}
