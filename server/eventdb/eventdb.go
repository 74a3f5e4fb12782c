// Package eventdb stores the acquisition lifecycle history in sqlite:
// every decoder start, failure, backoff and termination, so that "why was
// the feed down last night" has an answer.
package eventdb

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"gorm.io/gorm"
)

const DefaultMaxEventCount = 10000

type EventDB struct {
	log logs.Log
	db  *gorm.DB

	// Oldest records are purged to keep the table at or below this
	maxEventCount int64
}

// Open or create an event DB
func NewEventDB(logger logs.Log, dbPath string) (*EventDB, error) {
	logger = logs.NewPrefixLogger(logger, "EventDB")
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0777); err != nil {
			return nil, fmt.Errorf("Failed to create event DB path '%v': %w", dir, err)
		}
	}
	logger.Infof("Opening event DB at '%v'", dbPath)
	db, err := dbh.OpenDB(logger, dbh.MakeSqliteConfig(dbPath), Migrations(logger), 0)
	if err != nil {
		return nil, fmt.Errorf("Failed to open event database %v: %w", dbPath, err)
	}
	return &EventDB{
		log:           logger,
		db:            db,
		maxEventCount: DefaultMaxEventCount,
	}, nil
}

// AddEvent appends one lifecycle event.
func (e *EventDB) AddEvent(eventType EventType, detail *EventDetail) error {
	e.purgeOldRecords()

	event := &Event{
		Time:      dbh.MakeIntTime(time.Now()),
		EventType: eventType,
	}
	if detail != nil {
		event.Detail = dbh.MakeJSONField(*detail)
	}
	if err := e.db.Create(event).Error; err != nil {
		return err
	}
	return nil
}

// RecentEvents returns the newest events, newest first.
func (e *EventDB) RecentEvents(limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []*Event
	if err := e.db.Order("id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// EventsSince returns events at or after the given time, newest first.
func (e *EventDB) EventsSince(since time.Time) ([]*Event, error) {
	var events []*Event
	if err := e.db.Where("time >= ?", dbh.MakeIntTime(since)).Order("id DESC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// Count returns the number of events in the DB.
func (e *EventDB) Count() (int64, error) {
	count := int64(0)
	err := e.db.Model(&Event{}).Count(&count).Error
	return count, err
}

// purgeOldRecords deletes the oldest events so that the insert which follows
// leaves us at or below maxEventCount.
func (e *EventDB) purgeOldRecords() {
	count := int64(0)
	if err := e.db.Model(&Event{}).Count(&count).Error; err != nil {
		return
	}
	if count < e.maxEventCount {
		return
	}
	err := e.db.Exec("DELETE FROM event WHERE id NOT IN (SELECT id FROM event ORDER BY id DESC LIMIT ?)", e.maxEventCount-1).Error
	if err != nil {
		e.log.Warnf("Failed to purge old events: %v", err)
	}
}
