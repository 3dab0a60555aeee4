package models

// StaffRole is carried in staff JWTs issued by the organization's auth service
type StaffRole string

const (
	RoleStaff StaffRole = "staff"
	RoleAdmin StaffRole = "admin"
)
