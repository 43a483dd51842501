package schema

// SessionPayload is the backend shape returned by session probe and login.
type SessionPayload struct {
	User         UserPayload    `json:"user"`
	Company      CompanyPayload `json:"company"`
	CompanyColor string         `json:"company_color"`
	CompanyLogo  string         `json:"company_logo"`
	Token        string         `json:"token,omitempty"`
}

// UserPayload is the backend user record.
type UserPayload struct {
	UserName   string            `json:"user_name"`
	Email      string            `json:"email,omitempty"`
	UserRole   string            `json:"user_role"`
	SuperAdmin bool              `json:"super_admin"`
	Stores     []StoreAssignment `json:"stores"`
}

// CompanyPayload is the company attached to a backend session.
type CompanyPayload struct {
	ID   CompanyID `json:"id"`
	Name string    `json:"name"`
	DNS  TenantDNS `json:"dns"`
}

// ErrorPayload is the backend error body.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Backend error codes.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeInvalidCredentials = "invalid_credentials"
	CodeInvalidTOTP        = "invalid_totp"
	CodeUnauthenticated    = "unauthenticated"
	CodeForbidden          = "forbidden"
	CodeNotFound           = "not_found"
)

// LoginRequest is the backend login body.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTP     string `json:"totp,omitempty"`
}

// UserInfo converts the payload into an immutable identity snapshot.
func (p SessionPayload) UserInfo() *UserInfo {
	return &UserInfo{
		UserName:         p.User.UserName,
		UserRole:         p.User.UserRole,
		StoreAssignments: append([]StoreAssignment(nil), p.User.Stores...),
		CompanyLogo:      p.CompanyLogo,
		SuperAdmin:       p.User.SuperAdmin,
	}
}

// CompanyRef converts the attached company, if any.
func (p SessionPayload) CompanyRef() *Company {
	if p.Company.ID == "" && p.Company.DNS == "" {
		return nil
	}
	return &Company{
		ID:    p.Company.ID,
		Name:  p.Company.Name,
		DNS:   p.Company.DNS,
		Color: p.CompanyColor,
		Logo:  p.CompanyLogo,
	}
}
