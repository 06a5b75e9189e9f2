package template

import (
	"fmt"
	"time"
)

const (
	CategoryRiskAlert   = "risk_alert"
	CategoryHealthTip   = "health_tip"
	CategoryAppointment = "appointment"
	CategoryMedication  = "medication"
)

const (
	LanguageEnglish     = "en"
	LanguageKinyarwanda = "rw"
	LanguageFrench      = "fr"
)

var SupportedLanguages = []string{LanguageEnglish, LanguageKinyarwanda, LanguageFrench}

var validCategories = map[string]bool{
	CategoryRiskAlert: true, CategoryHealthTip: true, CategoryAppointment: true, CategoryMedication: true,
}

func supported(lang string) bool {
	for _, l := range SupportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

// Template maps to the message_template table. Content is keyed by language
// code and holds {{variable}} placeholders.
type Template struct {
	ID         string            `db:"id" json:"id"`
	Name       string            `db:"name" json:"name"`
	Category   string            `db:"category" json:"category"`
	Content    map[string]string `db:"content" json:"content"`
	Variables  []string          `db:"variables" json:"variables"`
	Active     bool              `db:"active" json:"active"`
	UsageCount int               `db:"usage_count" json:"usage_count"`
	LastUsedAt *time.Time        `db:"last_used_at" json:"last_used_at,omitempty"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time         `db:"updated_at" json:"updated_at"`
}

func (t *Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !validCategories[t.Category] {
		return fmt.Errorf("invalid category %q", t.Category)
	}
	if len(t.Content) == 0 {
		return fmt.Errorf("content is required")
	}
	for lang := range t.Content {
		if !supported(lang) {
			return fmt.Errorf("%w: %s", ErrUnsupportedLanguage, lang)
		}
	}
	return nil
}

func (t *Template) clone() *Template {
	cp := *t
	cp.Content = make(map[string]string, len(t.Content))
	for k, v := range t.Content {
		cp.Content[k] = v
	}
	cp.Variables = append([]string(nil), t.Variables...)
	return &cp
}
