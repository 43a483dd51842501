package schema

import "errors"

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidTenant indicates a tenant DNS prefix that cannot be used.
	ErrInvalidTenant = errors.New("invalid tenant")
	// ErrMissingTenant indicates a tenant-scoped call without a tenant.
	ErrMissingTenant = errors.New("tenant is required")
	// ErrInvalidCredentials indicates a rejected login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrInvalidTOTP indicates a rejected second factor.
	ErrInvalidTOTP = errors.New("invalid totp")
	// ErrUnauthenticated indicates a missing or expired backend session.
	ErrUnauthenticated = errors.New("not authenticated")
	// ErrSuperAdminOnly indicates an operation reserved to super-admins.
	ErrSuperAdminOnly = errors.New("super-admin role required")
	// ErrAdminHostOnly indicates an operation only available on the admin host.
	ErrAdminHostOnly = errors.New("admin host required")
	// ErrCompanyNotFound indicates an unknown company.
	ErrCompanyNotFound = errors.New("company not found")
	// ErrUserNotFound indicates an unknown directory user.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists indicates a duplicate directory user.
	ErrUserExists = errors.New("user already exists")
	// ErrBackendUnavailable indicates the backend could not be reached or answered badly.
	ErrBackendUnavailable = errors.New("backend unavailable")
	// ErrSuperseded indicates a completion dropped because a later dispatch was issued.
	ErrSuperseded = errors.New("superseded by a later request")
)
