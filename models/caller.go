package models

import (
	"context"
	"strings"

	"github.com/mmdatafocus/pos_backend/utils"
)

// Caller is the identity resolved by the auth middleware for the current request.
type Caller struct {
	BusinessId        string
	UserId            int
	UserName          string
	DefaultLocationId *int
	Role              UserRole
	Permissions       []string
	IsSuperAdmin      bool
}

func CallerFromContext(ctx context.Context) (*Caller, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, ErrUnauthenticated
	}
	c := &Caller{BusinessId: businessId, IsSuperAdmin: utils.GetIsAdminFromContext(ctx)}
	c.UserId, _ = utils.GetUserIdFromContext(ctx)
	c.UserName, _ = utils.GetUserNameFromContext(ctx)
	if role, ok := utils.GetRoleFromContext(ctx); ok {
		c.Role = UserRole(role)
	}
	c.Permissions, _ = utils.GetPermissionsFromContext(ctx)
	if loc, ok := utils.GetLocationIdFromContext(ctx); ok && loc > 0 {
		c.DefaultLocationId = &loc
	}
	return c, nil
}

func (c *Caller) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		p = strings.TrimSpace(p)
		if p == permission || p == PermissionAll {
			return true
		}
		// "pos:*" grants every pos permission
		if strings.HasSuffix(p, ":*") && strings.HasPrefix(permission, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}

func (c *Caller) IsAdminTier() bool {
	return c.IsSuperAdmin || c.Role.IsAdminTier()
}

func (c *Caller) CanSellAtAnyLocation() bool {
	return c.IsAdminTier() || c.HasPermission(PermissionSellAnyLocation)
}

func (c *Caller) CanMoveStock() bool {
	return c.IsAdminTier() || c.HasPermission(PermissionMoveStock)
}

func (c *Caller) CanAccessBusiness(businessId string) bool {
	return c.IsSuperAdmin || c.BusinessId == businessId
}

// authorizeSaleLocation admits a sale at locationId. Only callers bound to a default
// location are restricted.
func (c *Caller) authorizeSaleLocation(locationId *int) error {
	if locationId == nil || c.DefaultLocationId == nil {
		return nil
	}
	if *locationId == *c.DefaultLocationId {
		return nil
	}
	if c.CanSellAtAnyLocation() {
		return nil
	}
	return ErrForbiddenCrossLocation
}
