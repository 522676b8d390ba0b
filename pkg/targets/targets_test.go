package targets

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write targets file: %v", err)
	}
	return path
}

func TestLoadRegistryYAML(t *testing.T) {
	path := writeFile(t, "targets.yaml", `
targets:
  - id: items
    name: Item list
    url: https://api.example.com/items
  - id: create
    url: https://api.example.com/items
    method: post
    headers:
      Content-Type: application/json
      " ": dropped
    body:
      x: 1
    schedule: "*/5 * * * *"
  - id: home
    url: https://example.com
    decoder: HTML
    enabled: false
`)

	reg, err := LoadRegistry(path, "@every 1m")
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if got := len(reg.All()); got != 3 {
		t.Fatalf("expected 3 targets, got %d", got)
	}
	if got := len(reg.Enabled()); got != 2 {
		t.Fatalf("expected 2 enabled targets, got %d", got)
	}

	items, ok := reg.ByID("items")
	if !ok {
		t.Fatalf("items target missing")
	}
	if items.Method != "GET" || items.Decoder != DecoderJSON || items.Schedule != "@every 1m" {
		t.Fatalf("defaults not applied: %+v", items)
	}

	create, _ := reg.ByID("create")
	cfg := create.FetchConfig()
	if cfg.Method != "POST" {
		t.Fatalf("method = %s", cfg.Method)
	}
	if !reflect.DeepEqual(cfg.Headers, map[string]string{"Content-Type": "application/json"}) {
		t.Fatalf("headers = %#v", cfg.Headers)
	}
	body, ok := cfg.Body.(map[string]any)
	if !ok || body["x"] != 1 {
		t.Fatalf("body = %#v", cfg.Body)
	}

	home, _ := reg.ByID("home")
	if home.Decoder != DecoderHTML || home.EnabledValue() {
		t.Fatalf("unexpected home target %+v", home)
	}
}

func TestLoadRegistryJSON(t *testing.T) {
	path := writeFile(t, "targets.json", `{"targets":[{"id":"a","url":"https://a.example","schedule":"@hourly"}]}`)
	reg, err := LoadRegistry(path, "")
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if _, ok := reg.ByID("a"); !ok {
		t.Fatalf("target a missing")
	}
}

func TestLoadRegistryRejectsInvalidEntries(t *testing.T) {
	cases := map[string]string{
		"duplicate": `
targets:
  - id: dup
    url: https://a.example
  - id: dup
    url: https://b.example
`,
		"relative url": `
targets:
  - id: rel
    url: /items
`,
		"bad schedule": `
targets:
  - id: s
    url: https://a.example
    schedule: "every now and then"
`,
		"bad decoder": `
targets:
  - id: d
    url: https://a.example
    decoder: protobuf
`,
		"empty": `targets: []`,
	}

	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, "targets.yaml", content)
			if _, err := LoadRegistry(path, "@every 1m"); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestDecoderFor(t *testing.T) {
	dec, err := DecoderFor("json")
	if err != nil {
		t.Fatalf("DecoderFor json: %v", err)
	}
	v, err := dec([]byte(`{"ok":true}`))
	if err != nil || !reflect.DeepEqual(v, map[string]any{"ok": true}) {
		t.Fatalf("json decoded %v, %v", v, err)
	}

	dec, _ = DecoderFor("text")
	if v, _ := dec([]byte("plain")); v != "plain" {
		t.Fatalf("text decoded %v", v)
	}

	if _, err := DecoderFor("xml"); err == nil {
		t.Fatalf("expected error for unsupported decoder")
	}
}

func TestPageMetaDecoderPrefersOGTags(t *testing.T) {
	html := []byte(`
<html>
  <head>
    <title>Fallback</title>
    <meta property="og:title" content="OG Title">
    <meta name="description" content="Plain Desc">
    <meta property="og:image" content="/img/og.png">
  </head>
</html>`)

	meta, err := PageMetaDecoder()(html)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if meta.Title != "OG Title" || meta.Description != "Plain Desc" || meta.ImageURL != "/img/og.png" {
		t.Fatalf("unexpected meta %#v", meta)
	}

	resolved := meta.ResolveImage("https://example.com/articles/1")
	if resolved.ImageURL != "https://example.com/img/og.png" {
		t.Fatalf("resolved image = %q", resolved.ImageURL)
	}
}

func TestResolveURLHandlesEmpty(t *testing.T) {
	if got := resolveURL("", "https://example.com"); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", " ", "foo", "bar"); got != "foo" {
		t.Fatalf("firstNonEmpty returned %q", got)
	}
}
