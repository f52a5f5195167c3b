// Package stealth builds the browser-side patch bundle installed before any
// page script runs. Each patch is an independent script with an observable
// contract; the bundle fixes their order and guards re-application.
package stealth

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"regexp"
	"strings"
)

// DefaultUserAgent matches the TLS fingerprint presented by the HTTP driver.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Profile is the deterministic identity one browser context presents.
// SessionSeed drives the canvas and font noise; equal seeds yield
// bit-identical pixel modifications for identical inputs.
type Profile struct {
	SessionSeed   uint32
	UserAgent     string
	Language      string
	Languages     []string
	Platform      string
	WebGLVendor   string
	WebGLRenderer string
}

// NewProfile creates a Profile with a random session seed.
func NewProfile(webglVendor, webglRenderer string) *Profile {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return &Profile{
		SessionSeed:   binary.LittleEndian.Uint32(buf[:]),
		UserAgent:     DefaultUserAgent,
		Language:      "en-US",
		Languages:     []string{"en-US", "en"},
		Platform:      "Windows",
		WebGLVendor:   webglVendor,
		WebGLRenderer: webglRenderer,
	}
}

// brand is one entry of navigator.userAgentData.brands.
type brand struct {
	Brand   string `json:"brand"`
	Version string `json:"version"`
}

var chromeVersionRe = regexp.MustCompile(`Chrome/(\d+)(?:\.([\d.]+))?`)

// brands derives the userAgentData brand list from the UA string, so the
// high- and low-entropy surfaces agree.
func (p *Profile) brands() []brand {
	major := "131"
	if m := chromeVersionRe.FindStringSubmatch(p.UserAgent); m != nil {
		major = m[1]
	}
	return []brand{
		{Brand: "Chromium", Version: major},
		{Brand: "Google Chrome", Version: major},
		{Brand: "Not_A Brand", Version: "24"},
	}
}

func (p *Profile) fullVersion() string {
	if m := chromeVersionRe.FindStringSubmatch(p.UserAgent); m != nil && m[2] != "" {
		return m[1] + "." + m[2]
	}
	return "131.0.0.0"
}

// patches in installation order. The preamble defines the helpers the
// patches share (silent-fail wrapper, toString mask registry, djb2);
// the toString cloak installs last so it covers every masked function.
var patches = []string{
	jsPreamble,
	jsResidue,
	jsNavigator,
	jsGeometry,
	jsPermissions,
	jsWebGL,
	jsCanvas,
	jsFonts,
	jsMediaCodecs,
	jsToStringCloak,
}

// Bundle renders the full patch script. The output is deterministic for
// a given Profile and safe to evaluate more than once per document.
func (p *Profile) Bundle() string {
	var b strings.Builder
	b.WriteString("(() => {\n'use strict';\n")
	b.WriteString("if (window.__cs_patched) { return; }\n")
	b.WriteString("try { Object.defineProperty(window, '__cs_patched', { value: true, enumerable: false }); } catch (e) { window.__cs_patched = true; }\n")
	for _, patch := range patches {
		b.WriteString(patch)
		b.WriteString("\n")
	}
	b.WriteString("})();\n")
	return p.substitute(b.String())
}

func (p *Profile) substitute(js string) string {
	brandsJSON, _ := json.Marshal(p.brands())
	langsJSON, _ := json.Marshal(p.Languages)
	return strings.NewReplacer(
		"__SESSION_SEED__", jsNumber(p.SessionSeed),
		"__LANGUAGE__", jsString(p.Language),
		"__LANGUAGES__", string(langsJSON),
		"__UA_BRANDS__", string(brandsJSON),
		"__UA_FULL_VERSION__", jsString(p.fullVersion()),
		"__PLATFORM__", jsString(p.Platform),
		"__WEBGL_VENDOR__", jsString(p.WebGLVendor),
		"__WEBGL_RENDERER__", jsString(p.WebGLRenderer),
	).Replace(js)
}

func jsString(s string) string {
	out, _ := json.Marshal(s)
	return string(out)
}

func jsNumber(v uint32) string {
	out, _ := json.Marshal(v)
	return string(out)
}
