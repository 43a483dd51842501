package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"

	"pkt.systems/pslog"
	"pkt.systems/tenantgate/internal/appconfig"
	"pkt.systems/tenantgate/schema"
)

// Textual user roles stored in the directory.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

// User represents a stored user account.
type User struct {
	Email        string           `json:"email"`
	Name         string           `json:"name"`
	PasswordHash string           `json:"password_hash"`
	TOTPSecret   string           `json:"totp_secret,omitempty"`
	Role         string           `json:"role"`
	SuperAdmin   bool             `json:"super_admin"`
	Tenant       schema.TenantDNS `json:"tenant,omitempty"`
	Stores       []schema.StoreID `json:"stores,omitempty"`
}

// Company represents a stored client company and its stores.
type Company struct {
	ID     schema.CompanyID `json:"id"`
	Name   string           `json:"name"`
	DNS    schema.TenantDNS `json:"dns"`
	Color  string           `json:"color,omitempty"`
	Logo   string           `json:"logo,omitempty"`
	Stores []schema.Store   `json:"stores"`
}

// Seed lists the records written when the directory file does not exist yet.
type Seed struct {
	Companies []appconfig.SeedCompany
	Users     []appconfig.SeedUser
}

type document struct {
	Companies []Company `json:"companies"`
	Users     []User    `json:"users"`
}

// Store manages users and companies stored on disk.
type Store struct {
	path      string
	mu        sync.RWMutex
	users     map[string]User
	companies map[schema.TenantDNS]Company
	fileState fileState
	log       pslog.Logger
}

// NewStore loads or seeds the directory.
func NewStore(path string, seed Seed) (*Store, error) {
	return NewStoreWithLogger(path, seed, nil)
}

// NewStoreWithLogger loads or seeds the directory with logging.
func NewStoreWithLogger(path string, seed Seed, logger pslog.Logger) (*Store, error) {
	if path == "" {
		return nil, errors.New("directory file path is required")
	}
	if logger != nil {
		logger = logger.With("directory_file", path)
	}
	store := &Store{
		path:      path,
		users:     make(map[string]User),
		companies: make(map[schema.TenantDNS]Company),
		log:       logger,
	}
	if err := store.ensureFile(seed); err != nil {
		return nil, err
	}
	if err := store.loadFromDisk(); err != nil {
		return nil, err
	}
	return store, nil
}

// Authenticate verifies email, password and, when the user enrolled one, the TOTP code. The
// user must belong to the tenant unless the tenant is a console key or the user is a
// super-admin.
func (s *Store) Authenticate(tenant schema.TenantDNS, email, password, totpCode string) (User, error) {
	if err := s.refreshIfNeeded(); err != nil {
		return User{}, err
	}
	normalized, err := schema.NormalizeEmail(email)
	if err != nil {
		return User{}, schema.ErrInvalidCredentials
	}
	s.mu.RLock()
	user, ok := s.users[normalized]
	s.mu.RUnlock()
	if !ok {
		return User{}, schema.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, schema.ErrInvalidCredentials
	}
	if user.TOTPSecret != "" && !totp.Validate(strings.TrimSpace(totpCode), user.TOTPSecret) {
		return User{}, schema.ErrInvalidTOTP
	}
	if !user.CanAccess(tenant) {
		return User{}, schema.ErrInvalidCredentials
	}
	return user.clone(), nil
}

// CanAccess reports whether the user may open a session for the tenant.
func (u User) CanAccess(tenant schema.TenantDNS) bool {
	switch tenant {
	case schema.AdminTenantKey, schema.WarehouseTenantKey:
		return true
	case "":
		return false
	default:
		return u.SuperAdmin || u.Tenant == tenant
	}
}

// User returns the user with the given email.
func (s *Store) User(email string) (User, error) {
	if err := s.refreshIfNeeded(); err != nil {
		return User{}, err
	}
	normalized, err := schema.NormalizeEmail(email)
	if err != nil {
		return User{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[normalized]
	if !ok {
		return User{}, schema.ErrUserNotFound
	}
	return user.clone(), nil
}

// Users returns a snapshot of users sorted by email.
func (s *Store) Users() []User {
	if err := s.refreshIfNeeded(); err != nil && s.log != nil {
		s.log.Warn("directory refresh failed", "err", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user.clone())
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Email < users[j].Email })
	return users
}

// Company returns the company with the given DNS prefix.
func (s *Store) Company(dns schema.TenantDNS) (Company, error) {
	if err := s.refreshIfNeeded(); err != nil {
		return Company{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	company, ok := s.companies[dns]
	if !ok {
		return Company{}, schema.ErrCompanyNotFound
	}
	return company.clone(), nil
}

// Companies returns a snapshot of companies sorted by name.
func (s *Store) Companies() []Company {
	if err := s.refreshIfNeeded(); err != nil && s.log != nil {
		s.log.Warn("directory refresh failed", "err", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	companies := make([]Company, 0, len(s.companies))
	for _, company := range s.companies {
		companies = append(companies, company.clone())
	}
	sort.Slice(companies, func(i, j int) bool {
		if companies[i].Name == companies[j].Name {
			return companies[i].DNS < companies[j].DNS
		}
		return companies[i].Name < companies[j].Name
	})
	return companies
}

// AddUser inserts a new user and persists the directory.
func (s *Store) AddUser(user User) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}
	user, err := normalizeUser(user)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.Email]; ok {
		return schema.ErrUserExists
	}
	s.users[user.Email] = user
	if err := s.saveLocked(); err != nil {
		delete(s.users, user.Email)
		if s.log != nil {
			s.log.Warn("directory user add failed", "user", user.Email, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("directory user added", "user", user.Email, "tenant", user.Tenant)
	}
	return nil
}

// UpdatePassword replaces the stored password hash.
func (s *Store) UpdatePassword(email, passwordHash string) error {
	if strings.TrimSpace(passwordHash) == "" {
		return errors.New("password hash is required")
	}
	return s.updateUser(email, "password", func(user *User) {
		user.PasswordHash = passwordHash
	})
}

// UpdateTOTP replaces the stored TOTP secret. An empty secret disables the second factor.
func (s *Store) UpdateTOTP(email, secret string) error {
	return s.updateUser(email, "totp", func(user *User) {
		user.TOTPSecret = strings.TrimSpace(secret)
	})
}

// DeleteUser removes a user.
func (s *Store) DeleteUser(email string) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}
	normalized, err := schema.NormalizeEmail(email)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[normalized]
	if !ok {
		return schema.ErrUserNotFound
	}
	delete(s.users, normalized)
	if err := s.saveLocked(); err != nil {
		s.users[normalized] = user
		if s.log != nil {
			s.log.Warn("directory user delete failed", "user", normalized, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("directory user deleted", "user", normalized)
	}
	return nil
}

// UpsertCompany inserts or replaces a company.
func (s *Store) UpsertCompany(company Company) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}
	company, err := normalizeCompany(company)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, existed := s.companies[company.DNS]
	s.companies[company.DNS] = company
	if err := s.saveLocked(); err != nil {
		if existed {
			s.companies[company.DNS] = previous
		} else {
			delete(s.companies, company.DNS)
		}
		if s.log != nil {
			s.log.Warn("directory company save failed", "tenant", company.DNS, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("directory company saved", "tenant", company.DNS, "stores", len(company.Stores))
	}
	return nil
}

// SessionPayload builds the backend session shape for a user. Store names are resolved from
// the user's company.
func (s *Store) SessionPayload(user User) schema.SessionPayload {
	payload := schema.SessionPayload{
		User: schema.UserPayload{
			UserName:   user.Name,
			Email:      user.Email,
			UserRole:   user.Role,
			SuperAdmin: user.SuperAdmin,
			Stores:     []schema.StoreAssignment{},
		},
	}
	if user.Tenant == "" {
		return payload
	}
	company, err := s.Company(user.Tenant)
	if err != nil {
		return payload
	}
	names := make(map[schema.StoreID]string, len(company.Stores))
	for _, store := range company.Stores {
		names[store.ID] = store.Name
	}
	for _, id := range user.Stores {
		name, ok := names[id]
		if !ok {
			continue
		}
		payload.User.Stores = append(payload.User.Stores, schema.StoreAssignment{StoreID: id, StoreName: name})
	}
	payload.Company = schema.CompanyPayload{ID: company.ID, Name: company.Name, DNS: company.DNS}
	payload.CompanyColor = company.Color
	payload.CompanyLogo = company.Logo
	return payload
}

func (s *Store) updateUser(email, what string, apply func(*User)) error {
	if err := s.refreshIfNeeded(); err != nil {
		return err
	}
	normalized, err := schema.NormalizeEmail(email)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[normalized]
	if !ok {
		return schema.ErrUserNotFound
	}
	previous := user
	apply(&user)
	s.users[normalized] = user
	if err := s.saveLocked(); err != nil {
		s.users[normalized] = previous
		if s.log != nil {
			s.log.Warn("directory "+what+" update failed", "user", normalized, "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Info("directory "+what+" updated", "user", normalized)
	}
	return nil
}

func (s *Store) ensureFile(seed Seed) error {
	if _, statErr := os.Stat(s.path); statErr == nil {
		return nil
	} else if !os.IsNotExist(statErr) {
		if s.log != nil {
			s.log.Warn("directory init failed", "err", statErr)
		}
		return statErr
	}
	doc, err := seedDocument(seed)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, company := range doc.Companies {
		s.companies[company.DNS] = company
	}
	for _, user := range doc.Users {
		s.users[user.Email] = user
	}
	if err := s.saveLocked(); err != nil {
		return err
	}
	if s.log != nil {
		s.log.Info("directory initialized", "users", len(doc.Users), "companies", len(doc.Companies))
	}
	return nil
}

func seedDocument(seed Seed) (document, error) {
	var doc document
	for _, sc := range seed.Companies {
		company := Company{
			ID:    schema.CompanyID(sc.ID),
			Name:  sc.Name,
			DNS:   schema.TenantDNS(sc.DNS),
			Color: sc.Color,
			Logo:  sc.Logo,
		}
		for _, store := range sc.Stores {
			company.Stores = append(company.Stores, schema.Store{ID: schema.StoreID(store.ID), Name: store.Name, Address: store.Address})
		}
		normalized, err := normalizeCompany(company)
		if err != nil {
			return document{}, fmt.Errorf("seed company %q: %w", sc.DNS, err)
		}
		doc.Companies = append(doc.Companies, normalized)
	}
	for _, su := range seed.Users {
		hash := su.PasswordHash
		if hash == "" && su.Password != "" {
			generated, err := bcrypt.GenerateFromPassword([]byte(su.Password), bcrypt.DefaultCost)
			if err != nil {
				return document{}, err
			}
			hash = string(generated)
		}
		user := User{
			Email:        su.Email,
			Name:         su.Name,
			PasswordHash: hash,
			TOTPSecret:   su.TOTPSecret,
			Role:         su.Role,
			SuperAdmin:   su.SuperAdmin,
			Tenant:       schema.TenantDNS(su.Tenant),
		}
		for _, id := range su.Stores {
			user.Stores = append(user.Stores, schema.StoreID(id))
		}
		normalized, err := normalizeUser(user)
		if err != nil {
			return document{}, fmt.Errorf("seed user %q: %w", su.Email, err)
		}
		doc.Users = append(doc.Users, normalized)
	}
	return doc, nil
}

func normalizeUser(user User) (User, error) {
	email, err := schema.NormalizeEmail(user.Email)
	if err != nil {
		return User{}, fmt.Errorf("%w: invalid email", schema.ErrInvalidRequest)
	}
	user.Email = email
	if strings.TrimSpace(user.PasswordHash) == "" {
		return User{}, fmt.Errorf("%w: password hash is required", schema.ErrInvalidRequest)
	}
	user.Role = strings.ToLower(strings.TrimSpace(user.Role))
	if user.Role == "" {
		user.Role = RoleUser
	}
	if user.Role != RoleAdmin && user.Role != RoleUser {
		return User{}, fmt.Errorf("%w: role must be %q or %q", schema.ErrInvalidRequest, RoleAdmin, RoleUser)
	}
	if user.Tenant != "" {
		tenant, err := schema.NormalizeTenantDNS(string(user.Tenant))
		if err != nil {
			return User{}, err
		}
		user.Tenant = tenant
	} else if !user.SuperAdmin {
		return User{}, fmt.Errorf("%w: tenant is required for non super-admin users", schema.ErrInvalidRequest)
	}
	if strings.TrimSpace(user.Name) == "" {
		user.Name = email
	}
	return user.clone(), nil
}

func normalizeCompany(company Company) (Company, error) {
	dns, err := schema.NormalizeTenantDNS(string(company.DNS))
	if err != nil {
		return Company{}, err
	}
	company.DNS = dns
	if company.ID == "" {
		company.ID = schema.CompanyID(dns)
	}
	if strings.TrimSpace(company.Name) == "" {
		company.Name = string(dns)
	}
	seen := make(map[schema.StoreID]struct{}, len(company.Stores))
	for _, store := range company.Stores {
		if store.ID == "" {
			return Company{}, fmt.Errorf("%w: store id is required", schema.ErrInvalidRequest)
		}
		if _, ok := seen[store.ID]; ok {
			return Company{}, fmt.Errorf("%w: duplicate store %q", schema.ErrInvalidRequest, store.ID)
		}
		seen[store.ID] = struct{}{}
	}
	return company.clone(), nil
}

func (u User) clone() User {
	u.Stores = append([]schema.StoreID(nil), u.Stores...)
	return u
}

func (c Company) clone() Company {
	c.Stores = append([]schema.Store{}, c.Stores...)
	return c
}

func (s *Store) saveLocked() error {
	doc := document{
		Companies: make([]Company, 0, len(s.companies)),
		Users:     make([]User, 0, len(s.users)),
	}
	for _, company := range s.companies {
		doc.Companies = append(doc.Companies, company)
	}
	sort.Slice(doc.Companies, func(i, j int) bool { return doc.Companies[i].DNS < doc.Companies[j].DNS })
	for _, user := range s.users {
		doc.Users = append(doc.Users, user)
	}
	sort.Slice(doc.Users, func(i, j int) bool { return doc.Users[i].Email < doc.Users[j].Email })

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return s.saveFailed(err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return s.saveFailed(err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), "directory-*.json")
	if err != nil {
		return s.saveFailed(err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return s.saveFailed(err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return s.saveFailed(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return s.saveFailed(err)
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		_ = os.Remove(tmp.Name())
		return s.saveFailed(err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return s.saveFailed(err)
	}
	if info, err := os.Stat(s.path); err == nil {
		s.fileState = fileStateFromInfo(info)
	} else if s.log != nil {
		s.log.Warn("directory save failed to stat", "err", err)
	}
	if s.log != nil {
		s.log.Debug("directory save ok", "users", len(doc.Users), "companies", len(doc.Companies))
	}
	return nil
}

func (s *Store) saveFailed(err error) error {
	if s.log != nil {
		s.log.Warn("directory save failed", "err", err)
	}
	return err
}

type fileState struct {
	modTime time.Time
	size    int64
	inode   uint64
	dev     uint64
}

func fileStateFromInfo(info os.FileInfo) fileState {
	state := fileState{
		modTime: info.ModTime(),
		size:    info.Size(),
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		state.inode = stat.Ino
		state.dev = uint64(stat.Dev)
	}
	return state
}

func (s fileState) equal(other fileState) bool {
	return s.size == other.size &&
		s.modTime.Equal(other.modTime) &&
		s.inode == other.inode &&
		s.dev == other.dev
}

func (s *Store) refreshIfNeeded() error {
	info, err := os.Stat(s.path)
	if err != nil {
		if s.log != nil {
			s.log.Warn("directory stat failed", "err", err)
		}
		return err
	}
	latest := fileStateFromInfo(info)
	s.mu.RLock()
	current := s.fileState
	s.mu.RUnlock()
	if current.equal(latest) {
		return nil
	}
	return s.loadFromDisk()
}

func (s *Store) loadFromDisk() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if s.log != nil {
			s.log.Warn("directory load failed", "err", err)
		}
		return err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		if s.log != nil {
			s.log.Warn("directory load failed", "err", err)
		}
		return err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		if s.log != nil {
			s.log.Warn("directory load failed", "err", err)
		}
		return err
	}
	users := make(map[string]User, len(doc.Users))
	for _, user := range doc.Users {
		normalized, err := normalizeUser(user)
		if err != nil {
			if s.log != nil {
				s.log.Warn("directory load failed", "user", user.Email, "err", err)
			}
			return err
		}
		users[normalized.Email] = normalized
	}
	companies := make(map[schema.TenantDNS]Company, len(doc.Companies))
	for _, company := range doc.Companies {
		normalized, err := normalizeCompany(company)
		if err != nil {
			if s.log != nil {
				s.log.Warn("directory load failed", "tenant", company.DNS, "err", err)
			}
			return err
		}
		companies[normalized.DNS] = normalized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = users
	s.companies = companies
	s.fileState = fileStateFromInfo(info)
	if s.log != nil {
		s.log.Debug("directory load ok", "users", len(users), "companies", len(companies))
	}
	return nil
}
