// Package browser finds a Chromium-based browser on this machine and
// starts it with remote debugging enabled.
package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// BrowserKind identifies the type of Chromium-based browser.
type BrowserKind string

const (
	BrowserChrome   BrowserKind = "chrome"
	BrowserBrave    BrowserKind = "brave"
	BrowserEdge     BrowserKind = "edge"
	BrowserChromium BrowserKind = "chromium"
	BrowserCanary   BrowserKind = "canary"
	BrowserCustom   BrowserKind = "custom"
)

// BrowserExecutable represents a found browser binary.
type BrowserExecutable struct {
	Kind BrowserKind `json:"kind"`
	Path string      `json:"path"`
}

type candidate struct {
	kind BrowserKind
	path string
}

// ErrNoBrowser is returned when no supported browser is installed.
var ErrNoBrowser = fmt.Errorf("no supported browser found (Chrome/Brave/Edge/Chromium)")

// FindChromeExecutable finds a Chrome/Chromium browser on the system.
// customPath wins when set. Otherwise the system default browser is used
// if it is Chromium-based, then the usual install locations, then $PATH.
func FindChromeExecutable(customPath string) (*BrowserExecutable, error) {
	if customPath != "" {
		if !fileExists(customPath) {
			return nil, fmt.Errorf("browser executable not found: %s", customPath)
		}
		return &BrowserExecutable{Kind: BrowserCustom, Path: customPath}, nil
	}

	if exe := detectDefaultChromium(); exe != nil {
		return exe, nil
	}
	if exe := firstExisting(installCandidates(runtime.GOOS)); exe != nil {
		return exe, nil
	}
	if exe := lookPath(); exe != nil {
		return exe, nil
	}
	return nil, ErrNoBrowser
}

// AllExecutables lists every known install location that exists, for
// `browser find`.
func AllExecutables() []BrowserExecutable {
	var found []BrowserExecutable
	seen := make(map[string]bool)
	for _, c := range installCandidates(runtime.GOOS) {
		if fileExists(c.path) && !seen[c.path] {
			seen[c.path] = true
			found = append(found, BrowserExecutable{Kind: c.kind, Path: c.path})
		}
	}
	if exe := lookPath(); exe != nil && !seen[exe.Path] {
		found = append(found, *exe)
	}
	return found
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

func firstExisting(cs []candidate) *BrowserExecutable {
	for _, c := range cs {
		if fileExists(c.path) {
			return &BrowserExecutable{Kind: c.kind, Path: c.path}
		}
	}
	return nil
}

func firstOfKind(cs []candidate, kind BrowserKind) *BrowserExecutable {
	for _, c := range cs {
		if c.kind == kind && fileExists(c.path) {
			return &BrowserExecutable{Kind: c.kind, Path: c.path}
		}
	}
	return nil
}

var pathNames = []candidate{
	{BrowserChrome, "google-chrome"},
	{BrowserChrome, "google-chrome-stable"},
	{BrowserChromium, "chromium"},
	{BrowserChromium, "chromium-browser"},
	{BrowserBrave, "brave-browser"},
	{BrowserEdge, "microsoft-edge"},
	{BrowserChrome, "chrome"},
}

func lookPath() *BrowserExecutable {
	for _, c := range pathNames {
		if p, err := exec.LookPath(c.path); err == nil {
			return &BrowserExecutable{Kind: c.kind, Path: p}
		}
	}
	return nil
}

// installCandidates lists the usual install locations for goos, most
// preferred first.
func installCandidates(goos string) []candidate {
	switch goos {
	case "darwin":
		home := os.Getenv("HOME")
		var cs []candidate
		for _, app := range []candidate{
			{BrowserChrome, "Google Chrome.app/Contents/MacOS/Google Chrome"},
			{BrowserBrave, "Brave Browser.app/Contents/MacOS/Brave Browser"},
			{BrowserEdge, "Microsoft Edge.app/Contents/MacOS/Microsoft Edge"},
			{BrowserChromium, "Chromium.app/Contents/MacOS/Chromium"},
			{BrowserCanary, "Google Chrome Canary.app/Contents/MacOS/Google Chrome Canary"},
		} {
			cs = append(cs,
				candidate{app.kind, filepath.Join("/Applications", app.path)},
				candidate{app.kind, filepath.Join(home, "Applications", app.path)})
		}
		return cs
	case "windows":
		var cs []candidate
		local := os.Getenv("LOCALAPPDATA")
		programFiles := envOr("ProgramFiles", `C:\Program Files`)
		programFilesX86 := envOr("ProgramFiles(x86)", `C:\Program Files (x86)`)
		if local != "" {
			cs = append(cs,
				candidate{BrowserChrome, filepath.Join(local, "Google", "Chrome", "Application", "chrome.exe")},
				candidate{BrowserBrave, filepath.Join(local, "BraveSoftware", "Brave-Browser", "Application", "brave.exe")},
				candidate{BrowserEdge, filepath.Join(local, "Microsoft", "Edge", "Application", "msedge.exe")},
				candidate{BrowserCanary, filepath.Join(local, "Google", "Chrome SxS", "Application", "chrome.exe")})
		}
		return append(cs,
			candidate{BrowserChrome, filepath.Join(programFiles, "Google", "Chrome", "Application", "chrome.exe")},
			candidate{BrowserChrome, filepath.Join(programFilesX86, "Google", "Chrome", "Application", "chrome.exe")},
			candidate{BrowserBrave, filepath.Join(programFiles, "BraveSoftware", "Brave-Browser", "Application", "brave.exe")},
			candidate{BrowserEdge, filepath.Join(programFilesX86, "Microsoft", "Edge", "Application", "msedge.exe")},
			candidate{BrowserEdge, filepath.Join(programFiles, "Microsoft", "Edge", "Application", "msedge.exe")})
	default:
		return []candidate{
			{BrowserChrome, "/usr/bin/google-chrome"},
			{BrowserChrome, "/usr/bin/google-chrome-stable"},
			{BrowserChrome, "/opt/google/chrome/chrome"},
			{BrowserBrave, "/usr/bin/brave-browser"},
			{BrowserBrave, "/snap/bin/brave"},
			{BrowserEdge, "/usr/bin/microsoft-edge"},
			{BrowserChromium, "/usr/bin/chromium"},
			{BrowserChromium, "/usr/bin/chromium-browser"},
			{BrowserChromium, "/snap/bin/chromium"},
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// detectDefaultChromium returns the system default browser when it is
// Chromium-based.
func detectDefaultChromium() *BrowserExecutable {
	switch runtime.GOOS {
	case "darwin":
		return detectDefaultMac()
	case "linux":
		return detectDefaultLinux()
	case "windows":
		return detectDefaultWindows()
	}
	return nil
}

func detectDefaultMac() *BrowserExecutable {
	out, err := exec.Command("osascript", "-e", `
		use framework "AppKit"
		set ws to current application's NSWorkspace's sharedWorkspace()
		set defaultBrowser to ws's URLForApplicationToOpenURL:(current application's NSURL's URLWithString:"https://")
		if defaultBrowser is missing value then return ""
		return defaultBrowser's |path|() as text
	`).Output()
	if err != nil {
		return nil
	}
	bundle := strings.TrimSpace(string(out))
	for name, kind := range map[string]BrowserKind{
		"Google Chrome.app":        BrowserChrome,
		"Google Chrome Canary.app": BrowserCanary,
		"Brave Browser.app":        BrowserBrave,
		"Microsoft Edge.app":       BrowserEdge,
		"Chromium.app":             BrowserChromium,
		"Vivaldi.app":              BrowserChromium,
	} {
		if bundle != "" && strings.HasSuffix(bundle, name) {
			exe := filepath.Join(bundle, "Contents", "MacOS", strings.TrimSuffix(name, ".app"))
			if fileExists(exe) {
				return &BrowserExecutable{Kind: kind, Path: exe}
			}
		}
	}
	return nil
}

var linuxDesktops = map[string]BrowserKind{
	"google-chrome.desktop":        BrowserChrome,
	"google-chrome-stable.desktop": BrowserChrome,
	"brave-browser.desktop":        BrowserBrave,
	"microsoft-edge.desktop":       BrowserEdge,
	"chromium.desktop":             BrowserChromium,
	"chromium-browser.desktop":     BrowserChromium,
}

func detectDefaultLinux() *BrowserExecutable {
	out, err := exec.Command("xdg-settings", "get", "default-web-browser").Output()
	if err != nil {
		return nil
	}
	kind, ok := linuxDesktops[strings.TrimSpace(string(out))]
	if !ok {
		return nil
	}
	return firstOfKind(installCandidates("linux"), kind)
}

var windowsProgIDs = map[string]BrowserKind{
	"ChromeHTML": BrowserChrome,
	"BraveHTML":  BrowserBrave,
	"MSEdgeHTM":  BrowserEdge,
}

func detectDefaultWindows() *BrowserExecutable {
	out, err := exec.Command("reg", "query",
		`HKCU\Software\Microsoft\Windows\Shell\Associations\UrlAssociations\http\UserChoice`,
		"/v", "ProgId").Output()
	if err != nil {
		return nil
	}
	for progID, kind := range windowsProgIDs {
		if strings.Contains(string(out), progID) {
			return firstOfKind(installCandidates("windows"), kind)
		}
	}
	return nil
}
