package domain

import "slices"

type Role string

const (
	RoleAdministration   Role = "administration"
	RoleWarehouseManager Role = "warehouse_manager"
	RoleDeliveryDriver   Role = "delivery_driver"
	RoleCustomer         Role = "customer"
	RoleCustomerSupport  Role = "customer_support"
	RoleFinanceManager   Role = "finance_manager"
	RoleProductSeller    Role = "product_seller"
)

var allRoles = []Role{
	RoleAdministration,
	RoleWarehouseManager,
	RoleDeliveryDriver,
	RoleCustomer,
	RoleCustomerSupport,
	RoleFinanceManager,
	RoleProductSeller,
}

// ParseRole returns false for names outside the closed set.
func ParseRole(name string) (Role, bool) {
	r := Role(name)
	if slices.Contains(allRoles, r) {
		return r, true
	}
	return "", false
}

// HasRequiredRole is true when no role is required or the user holds any of them.
func HasRequiredRole(userRoles, requiredRoles []Role) bool {
	if len(requiredRoles) == 0 {
		return true
	}
	for _, required := range requiredRoles {
		if slices.Contains(userRoles, required) {
			return true
		}
	}
	return false
}
