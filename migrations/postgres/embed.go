// Package migrations embebe los archivos SQL de migración.
package migrations

import "embed"

// SessionFS contiene el schema del store de sesiones del back office.
//
//go:embed session/*.sql
var SessionFS embed.FS

// SessionDir es el directorio dentro de SessionFS donde viven las migraciones.
const SessionDir = "session"
