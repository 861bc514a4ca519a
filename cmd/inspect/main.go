package main

import (
	"chat-hub/domain"
	"chat-hub/infrastructure/storage"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/olekukonko/tablewriter"
)

const maxContentWidth = 60

func main() {
	dbPath := flag.String("db", "./data/chat", "Path to badger DB")
	room := flag.String("room", "", "Only show this room, every room when empty")
	since := flag.Duration("since", 0, "Only show messages newer than this, with -room")
	limit := flag.Int("limit", 100, "Max messages with -room")
	flag.Parse()

	db, err := openDB(*dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error while opening Badger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	repository := storage.NewMessageRepository(db, slog.New(slog.NewTextHandler(io.Discard, nil)))
	var messages []domain.Message
	if *room != "" {
		var from time.Time
		if *since > 0 {
			from = time.Now().Add(-*since)
		}
		messages, err = repository.Query(context.Background(), domain.RoomID(*room), from, *limit)
	} else {
		err = repository.Scan(func(message domain.Message) error {
			messages = append(messages, message)
			return nil
		})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error while reading messages: %v\n", err)
		os.Exit(1)
	}

	render(os.Stdout, messages)
}

func render(w io.Writer, messages []domain.Message) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Room", "Seq", "Time", "Type", "Sender", "Lang", "Content", "Id"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, m := range messages {
		seq := "-"
		if m.Seq > 0 {
			seq = strconv.FormatUint(m.Seq, 10)
		}
		table.Append([]string{
			string(m.Room),
			seq,
			m.CreatedAt.Format("2006-01-02 15:04:05.000"),
			typeLabel(m.Type),
			string(m.Sender),
			m.Lang,
			truncate(m.Content),
			m.ID.String()[:8],
		})
	}
	table.Render()
	fmt.Fprintln(w, color.New(color.FgGray).Render(fmt.Sprintf("%d messages", len(messages))))
}

func typeLabel(t domain.MessageType) string {
	switch t {
	case domain.MessageText:
		return color.New(color.FgGreen).Render("TEXT")
	case domain.MessageSystem:
		return color.New(color.FgYellow).Render("SYSTEM")
	}
	return strings.ToUpper(string(t))
}

func truncate(content string) string {
	runes := []rune(strings.ReplaceAll(content, "\n", " "))
	if len(runes) <= maxContentWidth {
		return string(runes)
	}
	return string(runes[:maxContentWidth-1]) + "…"
}

// openDB opens the store read-only, so it can run next to a live server.
func openDB(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true)
	return badger.Open(opts)
}
