package repositories

import (
	"time"

	"github.com/prudhvinik1/flashsync/internal/models"
)

// normalizeTimes pins every timestamp to UTC milliseconds, the precision
// the wire format promises.
func normalizeTimes(f *models.Flash) {
	f.CreatedAt = ms(f.CreatedAt)
	f.UpdatedAt = ms(f.UpdatedAt)
	f.Version = ms(f.Version)
	if f.SyncedAt != nil {
		v := ms(*f.SyncedAt)
		f.SyncedAt = &v
	}
	if f.DeletedAt != nil {
		v := ms(*f.DeletedAt)
		f.DeletedAt = &v
	}
}

func ms(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}
