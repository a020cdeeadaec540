// Package audit deja rastro de las operaciones que modifican datos del
// marketplace o la sesión de un admin.
package audit

import (
	"context"

	"go.uber.org/zap"

	"github.com/dropDatabas3/consultadmin/internal/observability/logger"
	"github.com/dropDatabas3/consultadmin/internal/session"
)

// Acciones registradas.
const (
	ActionLogin      = "login"
	ActionLogout     = "logout"
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionUpdateMany = "update_many"
	ActionDelete     = "delete"
	ActionDeleteMany = "delete_many"
	ActionDomain     = "action"
)

// Event es una entrada del audit log.
type Event struct {
	Action   string
	Resource string
	IDs      []string
	// Name: nombre de la acción de dominio (ej. "cancel").
	Name   string
	UserID string
	Err    error
}

// UserID devuelve el id del usuario guardado en la sesión, o "" si no hay.
// Las operaciones que pueden terminar limpiando la sesión lo resuelven antes
// de llamar al upstream.
func UserID(ctx context.Context, repo session.Repository) string {
	if repo == nil {
		return ""
	}
	u, err := session.LoadUser(ctx, repo)
	if err != nil {
		return ""
	}
	return u.ID
}

// Log escribe e en el logger "audit". Si UserID está vacío lo toma del
// usuario guardado en la sesión.
func Log(ctx context.Context, repo session.Repository, e Event) {
	if e.UserID == "" {
		e.UserID = UserID(ctx, repo)
	}

	fields := []zap.Field{logger.Action(e.Action), logger.UserID(e.UserID)}
	if e.Resource != "" {
		fields = append(fields, logger.Resource(e.Resource))
	}
	switch len(e.IDs) {
	case 0:
	case 1:
		fields = append(fields, logger.RecordID(e.IDs[0]))
	default:
		fields = append(fields, zap.Strings("record_ids", e.IDs))
	}
	if e.Name != "" {
		fields = append(fields, zap.String("name", e.Name))
	}

	// From(ctx) ya trae request_id y session_id del middleware.
	l := logger.From(ctx).Named("audit")
	if e.Err != nil {
		l.Warn("admin operation failed", append(fields, logger.Outcome("failed"), logger.Err(e.Err))...)
		return
	}
	l.Info("admin operation", append(fields, logger.Outcome("ok"))...)
}
