package telemetry

import (
	"context"
	"math"
	"time"

	"github.com/couchcryptid/weather-telemetry-api/internal/domain"
)

// FeedCursor is a position in the (timestamp, metadata id) order of stored
// rows. Rows sharing a timestamp are told apart by id, so a page boundary can
// fall between them without skipping any.
type FeedCursor struct {
	Timestamp time.Time
	ID        int64
}

// CursorAt returns the position just after every row stored at or before t.
func CursorAt(t time.Time) FeedCursor {
	return FeedCursor{Timestamp: t.UTC(), ID: math.MaxInt64}
}

// Equal reports whether both cursors name the same position.
func (c FeedCursor) Equal(o FeedCursor) bool {
	return c.Timestamp.Equal(o.Timestamp) && c.ID == o.ID
}

// FeedPage is one page of rows after a cursor.
type FeedPage struct {
	Points []domain.WeatherPoint
	// Rows counts the stored rows read, decodable or not. A page with
	// Rows == limit means more rows may be waiting.
	Rows int
	// Next is the position of the last row read; it equals the requested
	// cursor when the page is empty.
	Next FeedCursor
}

// PointsAfter reads up to limit rows strictly after cursor in (timestamp, id)
// order and decodes them. Next moves past undecodable rows too, so a
// malformed row is read once and never blocks the feed.
func (s *Service) PointsAfter(ctx context.Context, cursor FeedCursor, limit int) (FeedPage, error) {
	ts := cursor.Timestamp.UTC()
	rows, err := s.run(ctx, queryPointsAfter, ts, ts, cursor.ID, limit)
	if err != nil {
		return FeedPage{}, err
	}

	page := FeedPage{Points: s.decode(rows), Rows: len(rows), Next: cursor}
	for i, row := range rows {
		pos, err := feedPosition(row)
		if err != nil {
			s.logger.Warn("feed row has no position", "index", i, "error", err)
			continue
		}
		page.Next = pos
	}
	return page, nil
}

func feedPosition(row domain.Row) (FeedCursor, error) {
	ts, err := domain.TimeValue(row, domain.ColTimestamp)
	if err != nil {
		return FeedCursor{}, err
	}
	id, err := domain.Int64Value(row, colID)
	if err != nil {
		return FeedCursor{}, err
	}
	return FeedCursor{Timestamp: ts, ID: id}, nil
}
