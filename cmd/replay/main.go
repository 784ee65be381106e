package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"detectstream/internal/dto"
	"detectstream/internal/model"
	"detectstream/internal/repository/sqlite"
	"detectstream/internal/service/changefeed"
)

func main() {
	dbPath := flag.String("db", "data/events.db", "Database path")
	brokers := flag.String("brokers", "localhost:9092", "Comma separated Kafka brokers")
	topic := flag.String("topic", "detection_events", "Change feed topic")
	source := flag.String("source", "", "Only replay events of this source")
	kind := flag.String("kind", "", "Only replay events of this kind (detection or change)")
	limit := flag.Int("limit", 500, "Maximum number of events to replay")
	flag.Parse()

	if _, err := os.Stat(*dbPath); err != nil {
		log.Fatalf("Database not found: %v", err)
	}

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	entries, err := sqlite.NewEventRepository(db).GetAll(&dto.EventFilters{
		Source: *source,
		Kind:   *kind,
		Limit:  *limit,
	})
	if err != nil {
		log.Fatalf("Failed to read journal: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("No events found to replay")
		return
	}

	msgs, err := changeMessages(entries, *topic)
	if err != nil {
		log.Fatalf("Failed to encode events: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	writer := &kafka.Writer{
		Addr:         kafka.TCP(splitBrokers(*brokers)...),
		Topic:        *topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	defer writer.Close()

	fmt.Printf("Replaying %d events from %s to topic %s\n", len(msgs), *dbPath, *topic)
	if err := writer.WriteMessages(ctx, msgs...); err != nil {
		log.Fatalf("Failed to publish events: %v", err)
	}
	fmt.Printf("✅ Successfully replayed %d events\n", len(msgs))
}

// changeMessages renders journal entries, oldest first, as insert change
// records keyed by source.
func changeMessages(entries []model.JournalEntry, table string) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]

		row, err := json.Marshal(entry.ChangeEvent())
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", entry.EventID, err)
		}
		value, err := json.Marshal(changefeed.ChangeRecord{
			Type:   changefeed.ChangeInsert,
			Table:  table,
			Record: row,
		})
		if err != nil {
			return nil, fmt.Errorf("event %s: %w", entry.EventID, err)
		}

		msgs = append(msgs, kafka.Message{Key: []byte(entry.SourceID), Value: value})
	}
	return msgs, nil
}

func splitBrokers(v string) []string {
	var brokers []string
	for _, b := range strings.Split(v, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
