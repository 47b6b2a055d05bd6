package models

// Cookie is one browser cookie as exported by a cookie-capture browser extension
type Cookie struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Domain   string `json:"domain"`
	Path     string `json:"path"`
	Expires  int64  `json:"expires"` // unix seconds, 0 for session cookies
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"httpOnly"`
	SameSite string `json:"sameSite"`
}

// AuthCredentials represents a stored authentication artifact scoped to one site domain
type AuthCredentials struct {
	ID         string   `json:"id"`          // Unique identifier (normalized site domain)
	SiteDomain string   `json:"site_domain"` // e.g. "linkedin.com"
	Cookies    []Cookie `json:"cookies"`
	UserAgent  string   `json:"user_agent"`
	CreatedAt  int64    `json:"created_at"`
	UpdatedAt  int64    `json:"updated_at"`
}
