package history

import "embed"

// embeddedMigrations holds every history-store migration, compiled into the
// binary so it runs without external SQL files on disk.
//
//go:embed migrations/*.sql
var embeddedMigrations embed.FS
