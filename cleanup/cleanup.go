// Package cleanup removes leftovers from a previous run at startup.
package cleanup

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/EasterCompany/dex-voice-responder/cache"
	logger "github.com/EasterCompany/dex-voice-responder/log"
	"github.com/EasterCompany/dex-voice-responder/speechlock"
)

// Result holds the outcome of a cleanup task.
type Result struct {
	Name        string
	Count       int
	Description string
}

// SweepStaleLocks deletes expired or unreadable speech lock records left
// behind by a crashed run. Valid records are kept; a live lock held by
// another instance must survive a restart of this one.
func SweepStaleLocks(ctx context.Context, store cache.Cache, log logger.Logger) Result {
	res := Result{Name: "SweepStaleLocks", Description: "expired speech lock records"}
	if store == nil {
		return res
	}

	keys, err := store.Keys(ctx, speechlock.RecordKey("*"))
	if err != nil {
		log.Error("Could not list speech lock records for cleanup", err)
		return res
	}

	now := time.Now()
	for _, key := range keys {
		data, ok, err := store.Get(ctx, key)
		if err != nil {
			log.Error(fmt.Sprintf("Could not read lock record %s during cleanup", key), err)
			continue
		}
		if !ok {
			continue
		}

		var rec speechlock.Record
		if err := json.Unmarshal(data, &rec); err == nil && rec.Valid(now) {
			continue
		}
		if err := store.Delete(ctx, key); err != nil {
			log.Error(fmt.Sprintf("Could not delete stale lock record %s", key), err)
			continue
		}
		res.Count++
	}

	if res.Count > 0 {
		log.Info(fmt.Sprintf("Cleanup removed %d stale speech lock record(s)", res.Count))
	}
	return res
}
