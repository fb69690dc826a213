package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const DefaultMaxStack = 64

type Catalogs struct {
	Items ItemCatalog
}

type ItemCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]ItemDef
	PaletteDigest string
	DefsDigest    string

	// category -> set of item ids, lowercased category keys.
	byCategory map[string]map[string]struct{}
}

type ItemDef struct {
	ID         string   `json:"id"`
	Kind       string   `json:"kind"` // "BLOCK","TOOL","MATERIAL","FOOD","MECH"
	Categories []string `json:"categories,omitempty"`
	MaxStack   int      `json:"max_stack,omitempty"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	if err := loadItems(filepath.Join(configDir, "items.json"), &c.Items); err != nil {
		return nil, err
	}
	return &c, nil
}

// NewItemCatalog builds a catalog from in-memory defs (tests, embedded defaults).
func NewItemCatalog(defs []ItemDef) (ItemCatalog, error) {
	var out ItemCatalog
	raw, _ := json.Marshal(defs)
	if err := out.init(raw, defs); err != nil {
		return ItemCatalog{}, err
	}
	return out, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadItems(path string, out *ItemCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var defs []ItemDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	if err := out.init(raw, defs); err != nil {
		return fmt.Errorf("items.json: %w", err)
	}
	return nil
}

func (c *ItemCatalog) init(raw []byte, defs []ItemDef) error {
	c.DefsDigest = sha256Hex(raw)
	c.Defs = map[string]ItemDef{}
	c.byCategory = map[string]map[string]struct{}{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("empty id")
		}
		if _, dup := c.Defs[d.ID]; dup {
			return fmt.Errorf("duplicate id %s", d.ID)
		}
		if d.MaxStack < 0 {
			return fmt.Errorf("%s: negative max_stack", d.ID)
		}
		c.Defs[d.ID] = d
		for _, cat := range d.Categories {
			key := normCategory(cat)
			if key == "" {
				continue
			}
			set := c.byCategory[key]
			if set == nil {
				set = map[string]struct{}{}
				c.byCategory[key] = set
			}
			set[d.ID] = struct{}{}
		}
	}

	ids := make([]string, 0, len(c.Defs))
	for id := range c.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	c.Palette = ids
	c.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		c.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	c.PaletteDigest = sha256Hex(palJSON)
	return nil
}

func normCategory(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// HasCategory reports whether item is tagged with category. Unknown items have no categories.
func (c *ItemCatalog) HasCategory(item, category string) bool {
	if c == nil {
		return false
	}
	set := c.byCategory[normCategory(category)]
	if set == nil {
		return false
	}
	_, ok := set[item]
	return ok
}

// MaxStack is the per-slot stack size of item; unknown items use DefaultMaxStack.
func (c *ItemCatalog) MaxStack(item string) int {
	if c == nil {
		return DefaultMaxStack
	}
	d, ok := c.Defs[item]
	if !ok || d.MaxStack <= 0 {
		return DefaultMaxStack
	}
	return d.MaxStack
}

func (c *ItemCatalog) Categories() []string {
	out := make([]string, 0, len(c.byCategory))
	for k := range c.byCategory {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
