package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jgoulah/meterscraper/internal/log"
)

// Kind says how a selector query is evaluated
type Kind string

const (
	// KindCSS matches elements with document.querySelectorAll
	KindCSS Kind = "css"
	// KindXPath matches elements with document.evaluate
	KindXPath Kind = "xpath"
	// KindText matches elements selected by the CSS query whose normalized
	// text contains Text, case-insensitively
	KindText Kind = "text"
)

// Selector is one way of locating an element
type Selector struct {
	Name  string
	Kind  Kind
	Query string
	Text  string
}

// Validate reports a selector that cannot be evaluated
func (s Selector) Validate() error {
	switch s.Kind {
	case KindCSS, KindXPath:
	case KindText:
		if s.Text == "" {
			return fmt.Errorf("selector %q: text selector needs text", s.label())
		}
	default:
		return fmt.Errorf("selector %q: unknown kind %q", s.label(), s.Kind)
	}
	if strings.TrimSpace(s.Query) == "" {
		return fmt.Errorf("selector %q: empty query", s.label())
	}
	return nil
}

func (s Selector) label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Kind == KindText {
		return fmt.Sprintf("%s~%q", s.Query, s.Text)
	}
	return s.Query
}

// Require lists the checks a match has to pass
type Require struct {
	Visible bool
	Enabled bool
	HasText bool
}

// SelectorList is an ordered list of selectors tried until the first match
type SelectorList struct {
	Name      string
	Require   Require
	Selectors []Selector
}

// Selector list names
const (
	ListUsername   = "username"
	ListPassword   = "password"
	ListSubmit     = "submit"
	ListLoginError = "login_error"
	ListLoggedIn   = "logged_in"
	ListExport     = "export"
	ListSave       = "save"
)

// SelectorSet holds every list the browser strategy uses
type SelectorSet struct {
	Username   SelectorList
	Password   SelectorList
	Submit     SelectorList
	LoginError SelectorList
	LoggedIn   SelectorList
	Export     SelectorList
	Save       SelectorList
}

func (s *SelectorSet) lists() []*SelectorList {
	return []*SelectorList{&s.Username, &s.Password, &s.Submit, &s.LoginError, &s.LoggedIn, &s.Export, &s.Save}
}

// List returns the list with the given name
func (s *SelectorSet) List(name string) (*SelectorList, bool) {
	for _, l := range s.lists() {
		if l.Name == name {
			return l, true
		}
	}
	return nil, false
}

// WithOverrides returns a copy of the set with the given selectors placed in
// front of the named lists
func (s SelectorSet) WithOverrides(overrides map[string][]Selector) (SelectorSet, error) {
	out := s.clone()
	for name, extra := range overrides {
		list, ok := out.List(name)
		if !ok {
			return SelectorSet{}, fmt.Errorf("unknown selector list %q", name)
		}
		for _, sel := range extra {
			if err := sel.Validate(); err != nil {
				return SelectorSet{}, fmt.Errorf("%s: %w", name, err)
			}
		}
		list.Selectors = append(append([]Selector{}, extra...), list.Selectors...)
	}
	return out, nil
}

func (s SelectorSet) clone() SelectorSet {
	out := s
	for _, l := range out.lists() {
		l.Selectors = append([]Selector(nil), l.Selectors...)
	}
	return out
}

func (s SelectorSet) empty() bool {
	for _, l := range s.lists() {
		if len(l.Selectors) > 0 {
			return false
		}
	}
	return true
}

func css(q string) Selector   { return Selector{Kind: KindCSS, Query: q} }
func xpath(q string) Selector { return Selector{Kind: KindXPath, Query: q} }

func byText(scope, t string) Selector {
	return Selector{Kind: KindText, Query: scope, Text: t}
}

// normalizeText lower-cases s and collapses runs of whitespace to one space
func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// lowerContains matches a tag whose own text contains what, ignoring ASCII case
func lowerContains(tag, what string) string {
	return fmt.Sprintf("//%s[contains(translate(text(), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), '%s')]", tag, what)
}

// DefaultSelectors returns the selector lists known to work against the portal
func DefaultSelectors() SelectorSet {
	return SelectorSet{
		Username: SelectorList{
			Name:    ListUsername,
			Require: Require{Visible: true},
			Selectors: []Selector{
				css(`input[type='email']`),
				css(`input[name='username']`),
				css(`input[name='userName']`),
				css(`input[name='email']`),
				css(`input[id*='username' i]`),
				css(`input[id*='email' i]`),
				css(`input[placeholder*='mail' i]`),
				css(`input[placeholder*='Benutzer' i]`),
			},
		},
		Password: SelectorList{
			Name:    ListPassword,
			Require: Require{Visible: true},
			Selectors: []Selector{
				css(`input[type='password']`),
				css(`input[name='password']`),
				css(`input[id*='password' i]`),
				css(`input[placeholder*='Passwort' i]`),
			},
		},
		Submit: SelectorList{
			Name:    ListSubmit,
			Require: Require{Visible: true},
			Selectors: []Selector{
				css(`button[type='submit']`),
				css(`input[type='submit']`),
				css(`button[class*='login' i]`),
				css(`button[id*='login' i]`),
				byText("button", "anmelden"),
				byText("button", "login"),
				css(`a[class*='login' i]`),
			},
		},
		LoginError: SelectorList{
			Name:    ListLoginError,
			Require: Require{Visible: true, HasText: true},
			Selectors: []Selector{
				xpath(`//div[contains(@class, 'error')]`),
				xpath(`//span[contains(@class, 'error')]`),
				xpath(`//div[contains(@class, 'alert')]`),
				xpath(`//p[contains(@class, 'error')]`),
				xpath(`//*[contains(text(), 'ungültig')]`),
				xpath(`//*[contains(text(), 'falsch')]`),
				xpath(`//*[contains(text(), 'incorrect')]`),
				xpath(`//*[contains(text(), 'invalid')]`),
				xpath(`//mat-error`),
				xpath(`//div[@role='alert']`),
			},
		},
		LoggedIn: SelectorList{
			Name: ListLoggedIn,
			Selectors: []Selector{
				css(`a[href*='logout' i]`),
				byText("button", "abmelden"),
				byText("button", "logout"),
				css(`div[class*='dashboard' i]`),
				css(`div[class*='consumption' i]`),
			},
		},
		Export: SelectorList{
			Name:    ListExport,
			Require: Require{Visible: true, Enabled: true},
			Selectors: []Selector{
				css(`.btn-export`),
				css(`button.btn-export`),
				css(`[class*='btn-export']`),
				xpath(`//button[contains(@class, 'btn-export')]`),
				xpath(`//*[contains(@class, 'btn-export')]`),

				xpath(lowerContains("button", "export")),
				xpath(lowerContains("button", "download")),
				xpath(lowerContains("a", "export")),
				xpath(lowerContains("a", "download")),
				xpath(lowerContains("button", "csv")),
				xpath(lowerContains("a", "csv")),
				xpath(lowerContains("span", "export") + "/.."),
				xpath(lowerContains("span", "download") + "/.."),

				xpath(`//button[@aria-label='Export']`),
				xpath(`//button[@aria-label='Download']`),
				xpath(`//button[@title='Export']`),
				xpath(`//button[@title='Download']`),
				xpath(`//*[@aria-label='Export']`),
				xpath(`//*[@aria-label='Download']`),

				xpath(`//mat-icon[contains(text(), 'download')]/..`),
				xpath(`//mat-icon[contains(text(), 'file_download')]/..`),
				xpath(`//mat-icon[contains(text(), 'cloud_download')]/..`),
				xpath(`//mat-icon[contains(text(), 'save_alt')]/..`),
				xpath(`//i[contains(@class, 'download')]/..`),

				css(`button[class*='export' i]`),
				css(`button[class*='download' i]`),
				css(`a[class*='export' i]`),
				css(`a[class*='download' i]`),
				css(`button[id*='export' i]`),
				css(`button[id*='download' i]`),

				byText("mat-button", "export"),
				byText("mat-raised-button", "export"),
				byText("mat-flat-button", "export"),
				byText("button[mat-button]", "export"),
				byText("button[mat-raised-button]", "export"),
			},
		},
		Save: SelectorList{
			Name:    ListSave,
			Require: Require{Visible: true, Enabled: true},
			Selectors: []Selector{
				xpath(lowerContains("span", "speichern") + "/.."),
				xpath(`//span[text()='Speichern']/..`),
				xpath(`//span[text()='speichern']/..`),
				xpath(`//button[.//span[contains(translate(text(), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), 'speichern')]]`),
				xpath(`//button[.//span[text()='Speichern']]`),
				xpath(`//button[.//span[text()='speichern']]`),

				xpath(lowerContains("button", "speichern")),
				xpath(`//button[text()='Speichern']`),

				xpath(`//mat-dialog-actions//span[contains(translate(text(), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), 'speichern')]/..`),
				xpath(`//mat-dialog-container//span[contains(translate(text(), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), 'speichern')]/..`),
				xpath(`//*[@role='dialog']//span[contains(translate(text(), 'ABCDEFGHIJKLMNOPQRSTUVWXYZ', 'abcdefghijklmnopqrstuvwxyz'), 'speichern')]/..`),

				byText("button span", "speichern"),
				byText("[role='dialog'] button", "save"),
			},
		},
	}
}

// Hit is the first element a list matched
type Hit struct {
	Index    int
	Selector Selector
	Element  Element
}

// locate tries the list in order and stops at the first match. Selectors that
// fail to evaluate are skipped.
func locate(ctx context.Context, page Page, list SelectorList, obs Observer) (*Hit, error) {
	logger := log.Ctx(ctx).With(slog.String("list", list.Name))

	for i, sel := range list.Selectors {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		el, ok, err := page.Find(ctx, sel, list.Require)
		if err != nil {
			logger.DebugContext(
				ctx,
				"selector failed",
				slog.Int("attempt", i+1),
				slog.String("selector", sel.label()),
				slog.Any("error", err),
			)
			continue
		}
		if !ok {
			continue
		}

		logger.InfoContext(
			ctx,
			"selector matched",
			slog.Int("attempt", i+1),
			slog.Int("of", len(list.Selectors)),
			slog.String("selector", sel.label()),
			slog.String("text", el.Text),
		)
		obs.SelectorHit(list.Name, i, sel.label())
		return &Hit{Index: i, Selector: sel, Element: el}, nil
	}

	logger.InfoContext(ctx, "no selector matched", slog.Int("tried", len(list.Selectors)))
	obs.SelectorMiss(list.Name)
	return nil, nil
}
