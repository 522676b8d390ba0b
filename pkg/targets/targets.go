package targets

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	cronlib "github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/samvad-hq/fetchstate/pkg/fetchstate"
)

// Package targets loads the watch list (YAML/JSON) of resources to keep fetched.

const (
	DecoderJSON = "json"
	DecoderText = "text"
	DecoderHTML = "html"
)

// ScheduleParser accepts standard five-field cron expressions and descriptors such as "@every 30s".
var ScheduleParser = cronlib.NewParser(cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor)

// Target is a single watched resource declared in the targets file.
type Target struct {
	ID       string            `json:"id" yaml:"id"`
	Name     string            `json:"name" yaml:"name"`
	URL      string            `json:"url" yaml:"url"`
	Method   string            `json:"method" yaml:"method"`
	Headers  map[string]string `json:"headers" yaml:"headers"`
	Body     any               `json:"body" yaml:"body"`
	Decoder  string            `json:"decoder" yaml:"decoder"`
	Schedule string            `json:"schedule" yaml:"schedule"`
	Enabled  *bool             `json:"enabled" yaml:"enabled"`
}

// configFile represents the structure of the targets file.
type configFile struct {
	Targets []Target `json:"targets" yaml:"targets"`
}

// Registry materializes target definitions loaded from a file.
type Registry struct {
	mu      sync.RWMutex
	targets []Target
	idx     map[string]Target
}

// LoadRegistry loads targets from a YAML/JSON file. Targets without a schedule get defaultSchedule.
func LoadRegistry(path, defaultSchedule string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("targets file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open targets file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}

	cf, err := parseTargets(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if len(cf.Targets) == 0 {
		return nil, errors.New("targets file contains no targets entries")
	}

	reg := &Registry{
		targets: make([]Target, len(cf.Targets)),
		idx:     make(map[string]Target, len(cf.Targets)),
	}
	for i := range cf.Targets {
		t := sanitizeTarget(cf.Targets[i], defaultSchedule)
		if err := validateTarget(t); err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}
		if _, exists := reg.idx[t.ID]; exists {
			return nil, fmt.Errorf("duplicate target id %q", t.ID)
		}
		reg.targets[i] = t
		reg.idx[t.ID] = t
	}
	return reg, nil
}

func parseTargets(data []byte, ext string) (configFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))
	decoders := []struct {
		name string
		ext  string
		fn   func([]byte, any) error
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		var cf configFile
		if err := d.fn(data, &cf); err == nil {
			return cf, nil
		}
	}
	return configFile{}, errors.New("targets file format not recognized (expected YAML or JSON)")
}

// sanitizeTarget trims and normalizes target fields.
func sanitizeTarget(t Target, defaultSchedule string) Target {
	t.ID = strings.TrimSpace(t.ID)
	t.Name = strings.TrimSpace(t.Name)
	t.URL = strings.TrimSpace(t.URL)
	t.Method = strings.ToUpper(strings.TrimSpace(t.Method))
	if t.Method == "" {
		t.Method = http.MethodGet
	}
	t.Decoder = strings.ToLower(strings.TrimSpace(t.Decoder))
	if t.Decoder == "" {
		t.Decoder = DecoderJSON
	}
	t.Schedule = strings.TrimSpace(t.Schedule)
	if t.Schedule == "" {
		t.Schedule = strings.TrimSpace(defaultSchedule)
	}
	t.Headers = sanitizeHeaders(t.Headers)
	if t.Enabled == nil {
		def := true
		t.Enabled = &def
	}
	return t
}

// sanitizeHeaders trims and removes empty headers.
func sanitizeHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		out[key] = val
	}
	return out
}

// validateTarget checks that required fields are present and well formed.
func validateTarget(t Target) error {
	if t.ID == "" {
		return errors.New("id is required")
	}
	if strings.ContainsRune(t.ID, 0) {
		return fmt.Errorf("id %q contains a NUL byte", t.ID)
	}
	if t.URL == "" {
		return fmt.Errorf("url is required for target %q", t.ID)
	}
	u, err := url.Parse(t.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("url %q for target %q is not absolute", t.URL, t.ID)
	}
	switch t.Decoder {
	case DecoderJSON, DecoderText, DecoderHTML:
	default:
		return fmt.Errorf("unsupported decoder %q for target %q", t.Decoder, t.ID)
	}
	if t.Schedule == "" {
		return fmt.Errorf("schedule is required for target %q", t.ID)
	}
	if _, err := ScheduleParser.Parse(t.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q for target %q: %w", t.Schedule, t.ID, err)
	}
	return nil
}

// ByID returns the target by id.
func (r *Registry) ByID(id string) (Target, bool) {
	if r == nil {
		return Target{}, false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Target{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.idx[id]
	return t, ok
}

// All returns all configured targets.
func (r *Registry) All() []Target {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Target, len(r.targets))
	copy(out, r.targets)
	return out
}

// Enabled returns targets that are enabled.
func (r *Registry) Enabled() []Target {
	all := r.All()
	out := make([]Target, 0, len(all))
	for _, t := range all {
		if t.EnabledValue() {
			out = append(out, t)
		}
	}
	return out
}

// EnabledValue returns enabled flag defaulting to true.
func (t Target) EnabledValue() bool {
	if t.Enabled == nil {
		return true
	}
	return *t.Enabled
}

// FetchConfig builds the request configuration for the target.
func (t Target) FetchConfig() fetchstate.Config {
	return fetchstate.Config{
		Method:  t.Method,
		Headers: t.Headers,
		Body:    t.Body,
	}
}

// PayloadDecoder returns the decoder named by t.Decoder.
func (t Target) PayloadDecoder() (fetchstate.Decoder[any], error) {
	return DecoderFor(t.Decoder)
}

// DecoderFor maps a decoder name to a type-erased decoder.
func DecoderFor(name string) (fetchstate.Decoder[any], error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", DecoderJSON:
		return fetchstate.Any(fetchstate.JSON[any]()), nil
	case DecoderText:
		return fetchstate.Any(fetchstate.Text()), nil
	case DecoderHTML:
		return fetchstate.Any(PageMetaDecoder()), nil
	default:
		return nil, fmt.Errorf("unsupported decoder %q", name)
	}
}
