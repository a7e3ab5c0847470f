package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DemoNamespace scopes the deterministic ids of demo profiles.
var DemoNamespace = uuid.MustParse("6f1d7c2e-4b8a-5e0f-9a61-3c2d8e7b4f10")

var demoNames = []string{
	"Alba", "Bruno", "Carmen", "Diego", "Elena", "Fabio", "Gala", "Hugo",
	"Irene", "Jorge", "Lola", "Mateo", "Nora", "Óscar", "Paula", "Quique",
	"Rocío", "Sergio", "Triana", "Unai",
}

var demoBios = []string{
	"Coffee first, adventures second.",
	"Weekend hiker, weekday coder.",
	"Looking for someone to share tapas with.",
	"Amateur photographer and full-time dog person.",
	"Ask me about my sourdough.",
}

// DemoProfileID returns the stable id of the i-th demo profile.
func DemoProfileID(i int) string {
	return uuid.NewSHA1(DemoNamespace, []byte(fmt.Sprintf("demo-profile-%d", i))).String()
}

// SeedDemoProfiles upserts count demo profiles keyed by deterministic ids.
//
// Behavior:
//   - Ids come from DemoProfileID, so re-running produces the same keys.
//   - Existing rows are updated in place (display_name, bio), never duplicated.
//   - Safe to retry after a partial failure.
func SeedDemoProfiles(ctx context.Context, database *gorm.DB, count int) (int, error) {
	if count <= 0 {
		return 0, nil
	}

	profiles := make([]Profile, 0, count)
	for i := 0; i < count; i++ {
		name := demoNames[i%len(demoNames)]
		if i >= len(demoNames) {
			name = fmt.Sprintf("%s %d", name, i/len(demoNames)+1)
		}
		profiles = append(profiles, Profile{
			ID:          DemoProfileID(i),
			DisplayName: name,
			Bio:         demoBios[i%len(demoBios)],
		})
	}

	err := database.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"display_name", "bio", "updated_at"}),
		}).
		CreateInBatches(&profiles, 100).Error
	if err != nil {
		return 0, fmt.Errorf("failed to seed demo profiles: %w", err)
	}
	return len(profiles), nil
}
