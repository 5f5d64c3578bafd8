package config

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/mmdatafocus/pos_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

var ErrCrossTenantWrite = errors.New("tenant guard: row belongs to another business")

// TenantGuardPlugin scopes reads, updates and deletes to the request's business_id
// and refuses inserts of rows stamped with a different business.
//
// Raw/Exec statements are not scoped; they must filter business_id themselves.
// Super-admins and internal jobs bypass via context flags.
type TenantGuardPlugin struct{}

func NewTenantGuardPlugin() *TenantGuardPlugin { return &TenantGuardPlugin{} }

func (p *TenantGuardPlugin) Name() string { return "tenant_guard" }

func (p *TenantGuardPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Query().Before("gorm:query").Register("tenant_guard:query", scopeToTenant); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("tenant_guard:row", scopeToTenant); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("tenant_guard:update", scopeToTenant); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").Register("tenant_guard:delete", scopeToTenant); err != nil {
		return err
	}
	return cb.Create().Before("gorm:create").Register("tenant_guard:create", checkCreateTenant)
}

func tenantField(db *gorm.DB) (*schema.Field, string) {
	if db == nil || db.Statement == nil || db.Statement.Context == nil || db.Statement.Schema == nil {
		return nil, ""
	}
	ctx := db.Statement.Context
	if bypassTenantScope(ctx) {
		return nil, ""
	}
	businessId, _ := appctx.GetString(ctx, appctx.ContextKeyBusinessId)
	if businessId == "" {
		return nil, ""
	}
	field := db.Statement.Schema.LookUpField("business_id")
	if field == nil {
		return nil, ""
	}
	return field, businessId
}

func scopeToTenant(db *gorm.DB) {
	field, businessId := tenantField(db)
	if field == nil {
		return
	}
	if whereMentionsBusiness(db.Statement.Clauses["WHERE"]) {
		return
	}
	db.Statement.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{Column: clause.Column{Table: db.Statement.Table, Name: field.DBName}, Value: businessId},
	}})
}

func checkCreateTenant(db *gorm.DB) {
	field, businessId := tenantField(db)
	if field == nil {
		return
	}
	ctx := db.Statement.Context
	check := func(rv reflect.Value) {
		v, zero := field.ValueOf(ctx, rv)
		if zero {
			return
		}
		if s, ok := v.(string); ok && s != businessId {
			_ = db.AddError(ErrCrossTenantWrite)
		}
	}
	rv := reflect.Indirect(db.Statement.ReflectValue)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			check(reflect.Indirect(rv.Index(i)))
		}
	case reflect.Struct:
		check(rv)
	}
}

func bypassTenantScope(ctx context.Context) bool {
	if v, _ := appctx.GetBool(ctx, appctx.ContextKeySkipTenantScope); v {
		return true
	}
	v, _ := appctx.GetBool(ctx, appctx.ContextKeyIsAdmin)
	return v
}

func whereMentionsBusiness(c clause.Clause) bool {
	w, ok := c.Expression.(clause.Where)
	if !ok {
		return false
	}
	for _, e := range w.Exprs {
		if exprMentionsBusiness(e) {
			return true
		}
	}
	return false
}

func exprMentionsBusiness(e clause.Expression) bool {
	switch v := e.(type) {
	case clause.Eq:
		return isBusinessColumn(v.Column)
	case clause.Neq:
		return isBusinessColumn(v.Column)
	case clause.IN:
		return isBusinessColumn(v.Column)
	case clause.AndConditions:
		for _, x := range v.Exprs {
			if exprMentionsBusiness(x) {
				return true
			}
		}
	case clause.OrConditions:
		for _, x := range v.Exprs {
			if exprMentionsBusiness(x) {
				return true
			}
		}
	case clause.Expr:
		return strings.Contains(strings.ToLower(v.SQL), "business_id")
	case clause.NamedExpr:
		return strings.Contains(strings.ToLower(v.SQL), "business_id")
	}
	return false
}

func isBusinessColumn(col any) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, "business_id") || strings.HasSuffix(strings.ToLower(c), ".business_id")
	case clause.Column:
		return strings.EqualFold(c.Name, "business_id")
	}
	return false
}
