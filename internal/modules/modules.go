package modules

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ID identifies a portal module. The set is closed: identifiers arriving at
// any boundary must resolve to one of the constants below (directly or via
// the alias table) or be rejected.
type ID string

const (
	MeTube      ID = "metube"
	PDF         ID = "pdf"
	QRCode      ID = "qrcode"
	Whisper     ID = "whisper"
	PhotoSearch ID = "photosearch"
	RealEstate  ID = "realestate"
)

// All lists every known module in stable order.
func All() []ID {
	return []ID{MeTube, PDF, QRCode, Whisper, PhotoSearch, RealEstate}
}

// aliases maps historical identifiers still present in stored rows and admin
// tooling onto canonical IDs. Legacy numeric IDs come from the first version
// of the admin dashboard; the misspellings come from early module rows.
var aliases = map[string]ID{
	"1":           PDF,
	"2":           MeTube,
	"3":           QRCode,
	"xhisper":     Whisper,
	"voice":       Whisper,
	"video":       MeTube,
	"youtube":     MeTube,
	"qr":          QRCode,
	"photo":       PhotoSearch,
	"immo":        RealEstate,
	"real-estate": RealEstate,
}

// Parse resolves a raw identifier to a canonical module ID. Unknown
// identifiers fail fast rather than falling through string heuristics.
func Parse(raw string) (ID, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return "", fmt.Errorf("empty module id")
	}
	for _, id := range All() {
		if normalized == string(id) {
			return id, nil
		}
	}
	if id, ok := aliases[normalized]; ok {
		return id, nil
	}
	return "", fmt.Errorf("unknown module id %q", raw)
}

// Registry maps module IDs to the internal base URLs their services listen on.
// It is built once at startup and passed to every component that forwards
// traffic; nothing reads the environment after construction.
type Registry struct {
	baseURLs map[ID]string
}

// defaultBaseURLs mirror the docker-compose service names used in
// development. Production overrides each entry via config or environment.
var defaultBaseURLs = map[ID]string{
	MeTube:      "http://metube:8081",
	PDF:         "http://stirling-pdf:8080",
	QRCode:      "http://qrcode:8085",
	Whisper:     "http://whisper:9000",
	PhotoSearch: "http://photosearch:3100",
	RealEstate:  "http://realestate:3200",
}

// NewRegistry builds a registry from the defaults plus per-module overrides.
// Override keys must parse to known IDs and values must be absolute URLs.
func NewRegistry(overrides map[string]string) (*Registry, error) {
	base := make(map[ID]string, len(defaultBaseURLs))
	for id, u := range defaultBaseURLs {
		base[id] = u
	}
	for raw, target := range overrides {
		id, err := Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("registry override: %w", err)
		}
		parsed, err := url.Parse(target)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, fmt.Errorf("registry override %s: invalid base url %q", id, target)
		}
		base[id] = strings.TrimRight(target, "/")
	}
	return &Registry{baseURLs: base}, nil
}

// LoadRegistryFile reads a YAML mapping of module id to base URL and builds a
// registry from it. Missing file is not an error; defaults apply.
func LoadRegistryFile(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return NewRegistry(nil)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(nil)
		}
		return nil, fmt.Errorf("read module registry: %w", err)
	}
	var overrides map[string]string
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parse module registry: %w", err)
	}
	return NewRegistry(overrides)
}

// BaseURL returns the internal base URL for the module.
func (r *Registry) BaseURL(id ID) (string, bool) {
	u, ok := r.baseURLs[id]
	return u, ok
}

// Endpoints returns a name->URL map of all registered upstreams, used by the
// health checker.
func (r *Registry) Endpoints() map[string]string {
	out := make(map[string]string, len(r.baseURLs))
	for id, u := range r.baseURLs {
		out[string(id)] = u
	}
	return out
}

// Names returns the registered module names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.baseURLs))
	for id := range r.baseURLs {
		names = append(names, string(id))
	}
	sort.Strings(names)
	return names
}
