package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"agora/api/internal/store"
	"github.com/redis/go-redis/v9"
)

const (
	dirtyVisitsKey = "visits:dirty"
	visitKeyTTL    = 48 * time.Hour
	dayLayout      = "2006-01-02"
)

// VisitTracker counts group visits per UTC day in Redis until they are drained into Postgres.
type VisitTracker struct {
	client *redis.Client
	now    func() time.Time
}

func NewVisitTracker(client *redis.Client) *VisitTracker {
	return &VisitTracker{client: client, now: time.Now}
}

// Record counts one visit. Signed-in users are distinct by id, anonymous ones by visit token.
func (t *VisitTracker) Record(ctx context.Context, groupID, visitToken, userID string) error {
	if groupID == "" {
		return nil
	}
	day := t.now().UTC().Format(dayLayout)
	visitsKey, visitorsKey := visitKeys(groupID, day)

	member := "visit:" + visitToken
	if userID != "" {
		member = "user:" + userID
	}

	pipe := t.client.TxPipeline()
	pipe.Incr(ctx, visitsKey)
	pipe.Expire(ctx, visitsKey, visitKeyTTL)
	pipe.PFAdd(ctx, visitorsKey, member)
	pipe.Expire(ctx, visitorsKey, visitKeyTTL)
	pipe.SAdd(ctx, dirtyVisitsKey, groupID+"|"+day)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record visit: %w", err)
	}
	return nil
}

// Drain returns the running totals of every touched group and day. Nothing is
// forgotten here; callers Ack the rows once they are stored.
func (t *VisitTracker) Drain(ctx context.Context) ([]store.GroupVisit, error) {
	members, err := t.client.SMembers(ctx, dirtyVisitsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list dirty visits: %w", err)
	}

	today := t.now().UTC().Format(dayLayout)
	visits := make([]store.GroupVisit, 0, len(members))
	for _, member := range members {
		groupID, day, ok := strings.Cut(member, "|")
		if !ok {
			_ = t.client.SRem(ctx, dirtyVisitsKey, member).Err()
			continue
		}
		parsedDay, err := time.Parse(dayLayout, day)
		if err != nil {
			_ = t.client.SRem(ctx, dirtyVisitsKey, member).Err()
			continue
		}

		visitsKey, visitorsKey := visitKeys(groupID, day)
		count, err := t.client.Get(ctx, visitsKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("read visits: %w", err)
		}
		unique, err := t.client.PFCount(ctx, visitorsKey).Result()
		if err != nil {
			return nil, fmt.Errorf("count visitors: %w", err)
		}
		if count > 0 {
			visits = append(visits, store.GroupVisit{GroupID: groupID, Day: parsedDay, Visits: count, UniqueVisitors: unique})
		} else if day != today {
			// Counters expired; nothing left to store.
			_ = t.client.SRem(ctx, dirtyVisitsKey, member).Err()
		}
	}
	return visits, nil
}

// Ack forgets stored rows of past days. Today's row stays dirty because it keeps
// counting until midnight.
func (t *VisitTracker) Ack(ctx context.Context, visits []store.GroupVisit) error {
	today := t.now().UTC().Format(dayLayout)
	members := make([]any, 0, len(visits))
	for _, visit := range visits {
		day := visit.Day.UTC().Format(dayLayout)
		if day == today {
			continue
		}
		members = append(members, visit.GroupID+"|"+day)
	}
	if len(members) == 0 {
		return nil
	}
	if err := t.client.SRem(ctx, dirtyVisitsKey, members...).Err(); err != nil {
		return fmt.Errorf("clear dirty visits: %w", err)
	}
	return nil
}

func visitKeys(groupID, day string) (string, string) {
	return "visits:" + groupID + ":" + day, "visitors:" + groupID + ":" + day
}

// NoopTracker stands in for VisitTracker when Redis is not configured.
type NoopTracker struct{}

func (NoopTracker) Record(context.Context, string, string, string) error { return nil }

func (NoopTracker) Drain(context.Context) ([]store.GroupVisit, error) { return nil, nil }

func (NoopTracker) Ack(context.Context, []store.GroupVisit) error { return nil }
