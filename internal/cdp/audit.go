package cdp

import (
	"log/slog"
)

// sensitiveMethods are commands that run script, move input or touch
// credentials. They are logged at info level; everything else at debug.
var sensitiveMethods = map[string]bool{
	"Runtime.evaluate":               true,
	"Runtime.callFunctionOn":         true,
	"Page.navigate":                  true,
	"Page.handleJavaScriptDialog":    true,
	"Network.setCookie":              true,
	"Network.deleteCookies":          true,
	"Network.setExtraHTTPHeaders":    true,
	"Storage.clearDataForOrigin":     true,
	"Input.dispatchKeyEvent":         true,
	"Input.insertText":               true,
	"DOM.setAttributeValue":          true,
	"DOM.setFileInputFiles":          true,
	"Page.setDocumentContent":        true,
	"Fetch.fulfillRequest":           true,
	"Security.setIgnoreCertErrors":   true,
	"Browser.grantPermissions":       true,
	"Target.createBrowserContext":    true,
	"Emulation.setUserAgentOverride": true,
}

type auditLogger struct {
	logger *slog.Logger
}

func newAuditLogger(l *slog.Logger) *auditLogger {
	return &auditLogger{logger: l}
}

func (l *auditLogger) logCommand(id int64, method string) {
	if l == nil {
		return
	}
	if sensitiveMethods[method] {
		l.logger.Info("cdp_sensitive_command", "id", id, "method", method)
	} else {
		l.logger.Debug("cdp_command", "id", id, "method", method)
	}
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
