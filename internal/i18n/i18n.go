// Package i18n holds the message catalog for the human-readable outcome
// lines the CLI prints. Nothing below the CLI depends on it.
package i18n

import (
	"context"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"grimm.is/podnet/internal/errors"
)

// DefaultLang is the fallback language
var DefaultLang = language.English

// SupportedLangs are the languages we support
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

// Catalog keys.
const (
	msgSucceeded = "%s %s: %s succeeded"
	msgUnchanged = "%s %s: %s, already in the requested state"
	msgFailed    = "%s %s: %s failed: %s"
)

// kindMessages describes each failure kind for an operator.
var kindMessages = map[errors.Kind]string{
	errors.KindValidation:     "invalid parameters, nothing was changed",
	errors.KindConfig:         "unknown name in parameters, nothing was changed",
	errors.KindNotFound:       "not found",
	errors.KindTimeout:        "timed out",
	errors.KindWriteFailed:    "could not write the configuration file, nothing was changed",
	errors.KindValidateFailed: "the generated configuration was rejected, previous state restored",
	errors.KindActivateFailed: "activation failed, previous state restored",
	errors.KindRollbackFailed: "ROLLBACK FAILED, the system may be inconsistent and needs an operator",
	errors.KindInternal:       "internal error",
}

var german = map[string]string{
	msgSucceeded: "%s %s: %s erfolgreich",
	msgUnchanged: "%s %s: %s, bereits im gewünschten Zustand",
	msgFailed:    "%s %s: %s fehlgeschlagen: %s",

	"invalid parameters, nothing was changed":                             "ungültige Parameter, nichts wurde geändert",
	"unknown name in parameters, nothing was changed":                     "unbekannter Name in den Parametern, nichts wurde geändert",
	"not found":                                                           "nicht gefunden",
	"timed out":                                                           "Zeitüberschreitung",
	"could not write the configuration file, nothing was changed":         "Konfigurationsdatei konnte nicht geschrieben werden, nichts wurde geändert",
	"the generated configuration was rejected, previous state restored":   "die erzeugte Konfiguration wurde abgelehnt, vorheriger Zustand wiederhergestellt",
	"activation failed, previous state restored":                          "Aktivierung fehlgeschlagen, vorheriger Zustand wiederhergestellt",
	"ROLLBACK FAILED, the system may be inconsistent and needs an operator": "ROLLBACK FEHLGESCHLAGEN, das System ist möglicherweise inkonsistent",
	"internal error":                                                      "interner Fehler",
}

func init() {
	for key, msg := range german {
		_ = message.SetString(language.German, key, msg)
	}
}

type contextKey struct{}

var printerKey = contextKey{}

// MatchLanguage returns the best matching language for the given tags
func MatchLanguage(acceptLang string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(acceptLang)
	tag, _, _ := matcher.Match(tags...)
	return tag
}

// NewPrinter returns a message printer for the given language
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// WithPrinter returns a new context with the printer injected
func WithPrinter(ctx context.Context, p *message.Printer) context.Context {
	return context.WithValue(ctx, printerKey, p)
}

// GetPrinter returns the printer from the context, or a default one
func GetPrinter(ctx context.Context) *message.Printer {
	p, ok := ctx.Value(printerKey).(*message.Printer)
	if !ok {
		return message.NewPrinter(DefaultLang)
	}
	return p
}

// NewCLIPrinter returns a printer for a POSIX locale value such as
// "de_DE.UTF-8", normally taken from LC_ALL or LANG.
func NewCLIPrinter(locale string) *message.Printer {
	if locale == "" || locale == "C" || locale == "POSIX" {
		return message.NewPrinter(DefaultLang)
	}
	if i := strings.IndexAny(locale, ".@"); i != -1 {
		locale = locale[:i]
	}
	tag, err := language.Parse(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return message.NewPrinter(DefaultLang)
	}
	tag, _, _ = matcher.Match(tag)
	return message.NewPrinter(tag)
}

// Succeeded renders a successful verb.
func Succeeded(p *message.Printer, construct, identity, verb string, unchanged bool) string {
	if unchanged {
		return p.Sprintf(msgUnchanged, construct, identity, verb)
	}
	return p.Sprintf(msgSucceeded, construct, identity, verb)
}

// Failed renders a failed verb, describing it by its error kind.
func Failed(p *message.Printer, construct, identity, verb string, err error) string {
	return p.Sprintf(msgFailed, construct, identity, verb, Describe(p, errors.GetKind(err)))
}

// Describe returns the operator-facing description of kind.
func Describe(p *message.Printer, kind errors.Kind) string {
	msg, ok := kindMessages[kind]
	if !ok {
		msg = kindMessages[errors.KindInternal]
	}
	return p.Sprintf(msg)
}
