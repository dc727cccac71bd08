package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"agrivest/internal/ledger"
)

// catalogFile is the YAML layout of the package catalog. Amounts are rupees
// and rates are percent, as operators write them.
type catalogFile struct {
	Packages []catalogEntry `yaml:"packages"`
}

type catalogEntry struct {
	ID                 string   `yaml:"id"`
	Name               string   `yaml:"name"`
	MinInvestment      string   `yaml:"min_investment"`
	DailyReturnPercent string   `yaml:"daily_return_percent"`
	DurationDays       int      `yaml:"duration_days"`
	Active             *bool    `yaml:"active"`
	Sectors            []string `yaml:"sectors"`
}

func DefaultCatalog() []ledger.Package {
	sectors := append([]string(nil), ledger.Sectors...)
	return []ledger.Package{
		{ID: "silver", Name: "Silver", MinInvestmentPaise: ledger.RupeesToPaise(1000), DailyReturnBps: 300, DurationDays: 30, Active: true, Sectors: sectors},
		{ID: "gold", Name: "Gold", MinInvestmentPaise: ledger.RupeesToPaise(3000), DailyReturnBps: 500, DurationDays: 30, Active: true, Sectors: sectors},
		{ID: "diamond", Name: "Diamond", MinInvestmentPaise: ledger.RupeesToPaise(7000), DailyReturnBps: 1000, DurationDays: 30, Active: true, Sectors: sectors},
	}
}

// LoadCatalog reads packages from path, or returns the built-in catalog when
// path is empty.
func LoadCatalog(path string) ([]ledger.Package, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

func ParseCatalog(data []byte) ([]ledger.Package, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(file.Packages) == 0 {
		return nil, fmt.Errorf("catalog has no packages")
	}
	seen := map[string]bool{}
	out := make([]ledger.Package, 0, len(file.Packages))
	for i, e := range file.Packages {
		p, err := e.toPackage()
		if err != nil {
			return nil, fmt.Errorf("catalog package %d: %w", i+1, err)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("catalog package %q defined twice", p.ID)
		}
		seen[p.ID] = true
		out = append(out, p)
	}
	return out, nil
}

func (e catalogEntry) toPackage() (ledger.Package, error) {
	id := strings.ToLower(strings.TrimSpace(e.ID))
	if id == "" {
		return ledger.Package{}, fmt.Errorf("id is required")
	}
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return ledger.Package{}, fmt.Errorf("%s: name is required", id)
	}
	minPaise, err := ledger.ParseRupees(e.MinInvestment)
	if err != nil {
		return ledger.Package{}, fmt.Errorf("%s: min_investment: %w", id, err)
	}
	if minPaise <= 0 {
		return ledger.Package{}, fmt.Errorf("%s: min_investment must be > 0", id)
	}
	pct, err := decimal.NewFromString(strings.TrimSpace(e.DailyReturnPercent))
	if err != nil {
		return ledger.Package{}, fmt.Errorf("%s: daily_return_percent must be numeric", id)
	}
	bps := pct.Mul(decimal.NewFromInt(100))
	if bps.IsNegative() || !bps.Equal(bps.Truncate(0)) {
		return ledger.Package{}, fmt.Errorf("%s: daily_return_percent must be >= 0 with at most 2 decimals", id)
	}
	if e.DurationDays <= 0 {
		return ledger.Package{}, fmt.Errorf("%s: duration_days must be > 0", id)
	}
	sectors := make([]string, 0, len(e.Sectors))
	for _, s := range e.Sectors {
		canonical, err := ledger.ValidateSector(s, ledger.Sectors)
		if err != nil {
			return ledger.Package{}, fmt.Errorf("%s: %w", id, err)
		}
		if canonical != "" {
			sectors = append(sectors, canonical)
		}
	}
	if len(sectors) == 0 {
		sectors = append(sectors, ledger.Sectors...)
	}
	active := true
	if e.Active != nil {
		active = *e.Active
	}
	return ledger.Package{
		ID:                 id,
		Name:               name,
		MinInvestmentPaise: minPaise,
		DailyReturnBps:     bps.IntPart(),
		DurationDays:       e.DurationDays,
		Active:             active,
		Sectors:            sectors,
	}, nil
}
