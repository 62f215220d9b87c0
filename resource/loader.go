// Package resource loads deck catalog files and applies them to the database.
package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Excalium-OG/DeckForge/game/drop"
	"github.com/Excalium-OG/DeckForge/model"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ---- Catalog file structures ----

// FieldDef is one template field of a deck.
type FieldDef struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // text | number | dropdown
	Required bool   `json:"required"`
}

// PerkDef is a merge perk. Its name must match a numeric field of the deck.
type PerkDef struct {
	Name              string          `json:"name"`
	BaseBoost         decimal.Decimal `json:"base_boost"`
	DiminishingFactor decimal.Decimal `json:"diminishing_factor"`
}

// CardDef is one card of a deck. Values maps field names to raw values.
type CardDef struct {
	Name          string            `json:"name"`
	Rarity        string            `json:"rarity"`
	Mergeable     *bool             `json:"mergeable"`
	MaxMergeLevel int               `json:"max_merge_level"`
	ImageURL      string            `json:"image_url"`
	Values        map[string]string `json:"values"`
}

// DeckDef is the content of one catalog file.
type DeckDef struct {
	Name      string     `json:"name"`
	CreatedBy int64      `json:"created_by"`
	Fields    []FieldDef `json:"fields"`
	Perks     []PerkDef  `json:"perks"`
	Cards     []CardDef  `json:"cards"`
	// DropRates maps rarity to percentage. Omitted rates fall back to the
	// configured defaults at draw time.
	DropRates map[string]decimal.Decimal `json:"drop_rates"`

	file string
}

// Loader reads every *.json file of a directory as one deck.
type Loader struct {
	DataPath string
	Decks    []*DeckDef
}

// NewLoader creates a Loader for the given catalog directory.
func NewLoader(dataPath string) *Loader {
	return &Loader{DataPath: dataPath}
}

// Load reads and validates all catalog files in name order.
func (rl *Loader) Load() error {
	files, err := filepath.Glob(filepath.Join(rl.DataPath, "*.json"))
	if err != nil {
		return fmt.Errorf("resource: list %s: %w", rl.DataPath, err)
	}
	sort.Strings(files)
	seen := make(map[string]string, len(files))
	rl.Decks = rl.Decks[:0]
	for _, f := range files {
		d := &DeckDef{file: f}
		if err := loadJSONObject(f, d); err != nil {
			return err
		}
		if err := d.validate(); err != nil {
			return fmt.Errorf("resource: %s: %w", f, err)
		}
		key := strings.ToLower(d.Name)
		if prev, dup := seen[key]; dup {
			return fmt.Errorf("resource: deck %q defined in both %s and %s", d.Name, prev, f)
		}
		seen[key] = f
		rl.Decks = append(rl.Decks, d)
	}
	return nil
}

func loadJSONObject[T any](path string, out *T) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("resource: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("resource: parse %s: %w", path, err)
	}
	return nil
}

var errInvalid = errors.New("invalid catalog")

func (d *DeckDef) validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: deck name is empty", errInvalid)
	}
	fields := make(map[string]FieldDef, len(d.Fields))
	for _, f := range d.Fields {
		switch f.Type {
		case model.FieldTypeText, model.FieldTypeNumber, model.FieldTypeDropdown:
		default:
			return fmt.Errorf("%w: field %q has unknown type %q", errInvalid, f.Name, f.Type)
		}
		key := strings.ToLower(f.Name)
		if _, dup := fields[key]; dup {
			return fmt.Errorf("%w: field %q defined twice", errInvalid, f.Name)
		}
		fields[key] = f
	}
	perks := make(map[string]bool, len(d.Perks))
	for _, p := range d.Perks {
		key := strings.ToLower(p.Name)
		if f, ok := fields[key]; !ok || f.Type != model.FieldTypeNumber {
			return fmt.Errorf("%w: perk %q does not name a number field", errInvalid, p.Name)
		}
		if perks[key] {
			return fmt.Errorf("%w: perk %q defined twice", errInvalid, p.Name)
		}
		perks[key] = true
		if !p.BaseBoost.IsPositive() {
			return fmt.Errorf("%w: perk %q needs a positive base_boost", errInvalid, p.Name)
		}
		if p.DiminishingFactor.IsNegative() || p.DiminishingFactor.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("%w: perk %q diminishing_factor must be within [0, 1]", errInvalid, p.Name)
		}
	}
	if len(d.DropRates) > 0 {
		if err := drop.Validate(drop.NewRates(d.DropRates), nil); err != nil {
			return fmt.Errorf("%w: %w", errInvalid, err)
		}
	}
	cards := make(map[string]bool, len(d.Cards))
	for _, c := range d.Cards {
		if c.Name == "" || c.Rarity == "" {
			return fmt.Errorf("%w: every card needs a name and rarity", errInvalid)
		}
		if cards[strings.ToLower(c.Name)] {
			return fmt.Errorf("%w: card %q defined twice", errInvalid, c.Name)
		}
		cards[strings.ToLower(c.Name)] = true
		if c.MaxMergeLevel < 0 {
			return fmt.Errorf("%w: card %q has a negative max_merge_level", errInvalid, c.Name)
		}
		for name := range c.Values {
			if _, ok := fields[strings.ToLower(name)]; !ok {
				return fmt.Errorf("%w: card %q sets unknown field %q", errInvalid, c.Name, name)
			}
		}
		for _, f := range d.Fields {
			if f.Required && strings.TrimSpace(valueOf(c.Values, f.Name)) == "" {
				return fmt.Errorf("%w: card %q is missing required field %q", errInvalid, c.Name, f.Name)
			}
		}
	}
	return nil
}

func valueOf(values map[string]string, field string) string {
	for k, v := range values {
		if strings.EqualFold(k, field) {
			return v
		}
	}
	return ""
}

// ---- Apply ----

// Options tunes how decks are written.
type Options struct {
	// Rarities restricts card rarities when non-empty. Compared case-insensitively.
	Rarities []string
	// DefaultDiminishing replaces a zero diminishing_factor.
	DefaultDiminishing decimal.Decimal
}

// Report counts the rows written by Apply.
type Report struct {
	Decks     int `json:"decks"`
	Fields    int `json:"fields"`
	Perks     int `json:"perks"`
	Cards     int `json:"cards"`
	Values    int `json:"values"`
	DropRates int `json:"drop_rates"`
}

// Apply upserts decks by name in one transaction. Existing cards keep their
// ids so owned instances stay valid; rows not named in the files are left
// alone.
func Apply(ctx context.Context, db *gorm.DB, decks []*DeckDef, opts Options) (*Report, error) {
	known := make(map[string]bool, len(opts.Rarities))
	for _, r := range opts.Rarities {
		known[strings.ToLower(r)] = true
	}
	rep := &Report{}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, d := range decks {
			if err := applyDeck(tx, d, opts, known, rep); err != nil {
				return fmt.Errorf("resource: deck %q: %w", d.Name, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rep, nil
}

func applyDeck(tx *gorm.DB, d *DeckDef, opts Options, known map[string]bool, rep *Report) error {
	var deck model.Deck
	err := tx.Where("name = ?", d.Name).First(&deck).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		deck = model.Deck{Name: d.Name, CreatedBy: d.CreatedBy}
		if err := tx.Create(&deck).Error; err != nil {
			return err
		}
	case err != nil:
		return err
	}
	rep.Decks++

	templates := make(map[string]int64, len(d.Fields))
	for i, f := range d.Fields {
		tpl := model.CardTemplate{DeckID: deck.ID, FieldName: f.Name}
		err := tx.Where("deck_id = ? AND field_name = ?", deck.ID, f.Name).First(&tpl).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		tpl.FieldType = f.Type
		tpl.FieldOrder = i
		tpl.IsRequired = f.Required
		if err := tx.Save(&tpl).Error; err != nil {
			return err
		}
		templates[strings.ToLower(f.Name)] = tpl.ID
		rep.Fields++
	}

	for _, p := range d.Perks {
		dim := p.DiminishingFactor
		if dim.IsZero() {
			dim = opts.DefaultDiminishing
		}
		row := model.DeckMergePerk{
			DeckID:            deck.ID,
			PerkName:          canonical(d.Fields, p.Name),
			BaseBoost:         p.BaseBoost,
			DiminishingFactor: dim,
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
			return err
		}
		rep.Perks++
	}

	if err := applyDropRates(tx, deck.ID, d, opts, rep); err != nil {
		return err
	}

	for _, c := range d.Cards {
		if len(known) > 0 && !known[strings.ToLower(c.Rarity)] {
			return fmt.Errorf("%w: card %q has unknown rarity %q", errInvalid, c.Name, c.Rarity)
		}
		var card model.Card
		err := tx.Where("deck_id = ? AND name = ?", deck.ID, c.Name).First(&card).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		card.DeckID = deck.ID
		card.Name = c.Name
		card.Rarity = c.Rarity
		card.Mergeable = c.Mergeable == nil || *c.Mergeable
		card.MaxMergeLevel = c.MaxMergeLevel
		if card.MaxMergeLevel == 0 {
			card.MaxMergeLevel = 10
		}
		card.ImageURL = c.ImageURL
		if err := tx.Save(&card).Error; err != nil {
			return err
		}
		rep.Cards++

		for name, value := range c.Values {
			row := model.CardFieldValue{
				CardID:     card.ID,
				TemplateID: templates[strings.ToLower(name)],
				FieldValue: value,
			}
			if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&row).Error; err != nil {
				return err
			}
			rep.Values++
		}
	}
	return nil
}

// applyDropRates replaces the deck's stored rates. With known rarities every
// one of them must have a rate.
func applyDropRates(tx *gorm.DB, deckID int64, d *DeckDef, opts Options, rep *Report) error {
	if len(d.DropRates) == 0 {
		return nil
	}
	rates := drop.NewRates(d.DropRates)
	if err := drop.Validate(rates, opts.Rarities); err != nil {
		return fmt.Errorf("%w: %w", errInvalid, err)
	}
	if err := tx.Where("deck_id = ?", deckID).Delete(&model.DeckDropRate{}).Error; err != nil {
		return err
	}
	for rarity, rate := range rates {
		if err := tx.Create(&model.DeckDropRate{DeckID: deckID, Rarity: rarity, Rate: rate}).Error; err != nil {
			return err
		}
		rep.DropRates++
	}
	return nil
}

// canonical returns the field spelling a perk name refers to.
func canonical(fields []FieldDef, name string) string {
	for _, f := range fields {
		if strings.EqualFold(f.Name, name) {
			return f.Name
		}
	}
	return name
}
