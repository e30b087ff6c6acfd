package curation

import (
	"log/slog"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nightcrew/gatekeep/curation/dedupe"
	"github.com/nightcrew/gatekeep/notify"
	"github.com/nightcrew/gatekeep/poststore"
	"github.com/nightcrew/gatekeep/transport"
)

// Test channel ids, shaped like real channel identifiers so link building
// works in assertions.
const (
	TestPublishChannel  int64 = -1001000000001
	TestRejectedChannel int64 = -1001000000002
	TestReviewGroup     int64 = -1001000000003
)

// EngineTestFixture builds a fully wired engine over an in-memory sqlite
// store, a memory dedupe guard, and a recording mock transport.
func EngineTestFixture() (*Engine, *transport.MockClient) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		panic(err)
	}
	store, err := poststore.NewStore(db)
	if err != nil {
		panic(err)
	}
	mock := transport.NewMockClient()
	logger := slog.Default()
	notifier := &notify.Dispatcher{
		Logger:          logger,
		Transport:       mock,
		PublishChannel:  TestPublishChannel,
		RejectedChannel: TestRejectedChannel,
		RetractNotify:   true,
	}
	engine := &Engine{
		Logger:    logger,
		Store:     store,
		Transport: mock,
		Notifier:  notifier,
		Dedupe:    dedupe.NewMemGuard(1000, time.Hour),
		Config: Config{
			ApproveThreshold: 2,
			RejectThreshold:  2,
			RejectionReasons: []string{"not funny enough", "NSFW or distressing", "out of scope"},
			PublishChannel:   TestPublishChannel,
			RejectedChannel:  TestRejectedChannel,
			ReviewGroup:      TestReviewGroup,
			RetractNotify:    true,
		},
	}
	return engine, mock
}
