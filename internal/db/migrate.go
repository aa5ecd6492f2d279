/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/grimnir_playout/internal/models"
	"gorm.io/gorm"
)

// Migrate applies the schema using GORM auto-migrate plus backend specific guards.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		&models.LiveStream{},
		&models.SlotConfig{},
		&models.Asset{},
		&models.AdCampaign{},
		&models.Slot{},
		&models.Program{},
	); err != nil {
		return err
	}

	if err := applyPostgresOverlapGuards(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresOverlapGuards installs triggers that reject overlapping slots
// per live stream and overlapping programs per slot.
func applyPostgresOverlapGuards(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	guards := []struct {
		table  string
		parent string
	}{
		{table: "slots", parent: "live_stream_id"},
		{table: "programs", parent: "slot_id"},
	}

	for _, g := range guards {
		stmt := fmt.Sprintf(`
CREATE OR REPLACE FUNCTION prevent_%[1]s_overlap()
RETURNS trigger
LANGUAGE plpgsql
AS $$
BEGIN
  IF NEW.end_at <= NEW.start_at THEN
    RAISE EXCEPTION '%[1]s end must be after start'
      USING ERRCODE = '23514';
  END IF;

  IF EXISTS (
    SELECT 1
    FROM %[1]s t
    WHERE t.%[2]s = NEW.%[2]s
      AND t.id <> NEW.id
      AND tstzrange(t.start_at, t.end_at, '[)') && tstzrange(NEW.start_at, NEW.end_at, '[)')
  ) THEN
    RAISE EXCEPTION 'overlapping %[1]s are not allowed for %%', NEW.%[2]s
      USING ERRCODE = '23514';
  END IF;

  RETURN NEW;
END;
$$;

DROP TRIGGER IF EXISTS trg_prevent_%[1]s_overlap ON %[1]s;

CREATE TRIGGER trg_prevent_%[1]s_overlap
BEFORE INSERT OR UPDATE OF %[2]s, start_at, end_at
ON %[1]s
FOR EACH ROW
EXECUTE FUNCTION prevent_%[1]s_overlap();
`, g.table, g.parent)

		if err := database.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply postgres overlap guard on %s: %w", g.table, err)
		}
	}

	return nil
}
