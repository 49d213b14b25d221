package notify

import (
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// Message ids of the toasts raised by the print pipeline.
const (
	MsgPrintSaved         = "PrintSaved"
	MsgPrintRecorded      = "PrintRecorded"
	MsgPrintRecordFailed  = "PrintRecordFailed"
	MsgPrintFailed        = "PrintFailed"
	MsgImageLeftBlank     = "ImageLeftBlank"
	MsgAlreadyPrinted     = "AlreadyPrinted"
	MsgPrintInProgress    = "PrintInProgress"
	MsgInstitutionalAsset = "InstitutionalAssetMissing"
)

//go:embed locales/*.json
var localeFS embed.FS

// Messages holds the translation bundle for toast texts.
type Messages struct {
	bundle    *i18n.Bundle
	languages []string
}

// LoadMessages reads every embedded active.<lang>.json file. English is the
// fallback language.
func LoadMessages() (*Messages, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	entries, err := localeFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("failed to read locales: %w", err)
	}

	var langs []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "active.") || !strings.HasSuffix(name, ".json") {
			continue
		}
		if _, err := bundle.LoadMessageFileFS(localeFS, "locales/"+name); err != nil {
			return nil, fmt.Errorf("failed to load locale %s: %w", name, err)
		}
		langs = append(langs, strings.TrimSuffix(strings.TrimPrefix(name, "active."), ".json"))
	}
	slog.Debug("Loaded toast messages", "languages", langs)

	return &Messages{bundle: bundle, languages: langs}, nil
}

func (m *Messages) Languages() []string {
	return append([]string(nil), m.languages...)
}

// Translator renders messages in one language.
type Translator struct {
	localizer *i18n.Localizer
}

// For picks a translator from Accept-Language style preferences.
func (m *Messages) For(preferences ...string) *Translator {
	if m == nil {
		return nil
	}
	return &Translator{localizer: i18n.NewLocalizer(m.bundle, preferences...)}
}

// Text renders a message. Unknown ids come back unchanged.
func (t *Translator) Text(id string, data map[string]any) string {
	if t == nil || t.localizer == nil {
		return id
	}
	msg, err := t.localizer.Localize(&i18n.LocalizeConfig{MessageID: id, TemplateData: data})
	if err != nil {
		slog.Debug("Missing translation", "id", id, "error", err)
		return id
	}
	return msg
}
