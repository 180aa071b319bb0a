package telegram

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const fallbackLocale = "en"

//go:embed messages.yaml
var messagesYAML []byte

type Messages struct {
	SendPicture       string `yaml:"send_picture"`
	Processing        string `yaml:"processing"`
	Caption           string `yaml:"caption"`
	NoText            string `yaml:"no_text"`
	DownloadFailed    string `yaml:"download_failed"`
	RecognitionFailed string `yaml:"recognition_failed"`
}

// Catalog maps a locale to its message set.
type Catalog struct {
	def    string
	byLang map[string]Messages
}

// LoadCatalog parses a locale catalog. Blank strings of any locale are taken
// from "en", which must be complete.
func LoadCatalog(data []byte, defaultLocale string) (*Catalog, error) {
	var raw map[string]Messages
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	base, ok := raw[fallbackLocale]
	if !ok {
		return nil, errors.New("messages: locale en is missing")
	}
	if base.SendPicture == "" || base.Processing == "" || base.Caption == "" ||
		base.NoText == "" || base.DownloadFailed == "" || base.RecognitionFailed == "" {
		return nil, errors.New("messages: locale en is incomplete")
	}

	c := &Catalog{def: normLocale(defaultLocale), byLang: make(map[string]Messages, len(raw))}
	for lang, m := range raw {
		c.byLang[normLocale(lang)] = fill(m, base)
	}
	if _, ok := c.byLang[c.def]; !ok {
		c.def = fallbackLocale
	}
	return c, nil
}

// DefaultCatalog loads the embedded catalog.
func DefaultCatalog(defaultLocale string) (*Catalog, error) {
	return LoadCatalog(messagesYAML, defaultLocale)
}

// For returns the messages of locale ("uz", "ru-RU", ...), then of the
// default locale.
func (c *Catalog) For(locale string) Messages {
	if m, ok := c.byLang[normLocale(locale)]; ok {
		return m
	}
	return c.byLang[c.def]
}

func normLocale(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexAny(s, "-_"); i >= 0 {
		s = s[:i]
	}
	return s
}

func fill(m, base Messages) Messages {
	pick := func(v, def string) string {
		if strings.TrimSpace(v) == "" {
			return def
		}
		return v
	}
	return Messages{
		SendPicture:       pick(m.SendPicture, base.SendPicture),
		Processing:        pick(m.Processing, base.Processing),
		Caption:           pick(m.Caption, base.Caption),
		NoText:            pick(m.NoText, base.NoText),
		DownloadFailed:    pick(m.DownloadFailed, base.DownloadFailed),
		RecognitionFailed: pick(m.RecognitionFailed, base.RecognitionFailed),
	}
}

// withError substitutes {error} in a diagnostic template.
func withError(tpl string, err error) string {
	desc := "unknown error"
	if err != nil && strings.TrimSpace(err.Error()) != "" {
		desc = err.Error()
	}
	if !strings.Contains(tpl, "{error}") {
		return tpl + " " + desc
	}
	return strings.ReplaceAll(tpl, "{error}", desc)
}
