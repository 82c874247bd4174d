package observability

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const gormSpanKey = "genstudio:gorm:span"

// RegisterGORMCallbacks traces job store statements as child spans of the
// calling operation.
func RegisterGORMCallbacks(db *gorm.DB, tracer *Tracer) error {
	cb := db.Callback()
	steps := []struct {
		name      string
		operation string
		before    func(string, func(*gorm.DB)) error
		after     func(string, func(*gorm.DB)) error
	}{
		{"query", "SELECT", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register},
		{"create", "INSERT", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register},
		{"update", "UPDATE", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register},
		{"delete", "DELETE", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register},
		{"row", "SELECT", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register},
	}

	for _, s := range steps {
		if err := s.before("genstudio:before_"+s.name, startSpan(tracer, "db."+s.name)); err != nil {
			return err
		}
		if err := s.after("genstudio:after_"+s.name, endSpan(tracer, s.operation)); err != nil {
			return err
		}
	}
	return nil
}

func startSpan(tracer *Tracer, name string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if db.Statement == nil || db.Statement.Context == nil {
			return
		}
		_, span := tracer.StartSpan(db.Statement.Context, name)
		db.InstanceSet(gormSpanKey, span)
	}
}

func endSpan(tracer *Tracer, operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(gormSpanKey)
		if !ok {
			return
		}
		span, ok := v.(trace.Span)
		if !ok {
			return
		}
		defer span.End()

		span.SetAttributes(
			attribute.String("db.operation", operation),
			attribute.String("db.table", db.Statement.Table),
			attribute.Int64("db.rows_affected", db.Statement.RowsAffected),
		)
		tracer.RecordError(span, db.Error)
	}
}
