package importer

import (
	"strconv"
	"strings"

	"github.com/alfredjeanlab/crates/internal/discogs"
	"github.com/alfredjeanlab/crates/internal/model"
)

// formatNames maps a catalog format name to the local format.
var formatNames = map[string]model.Format{
	"vinyl":      model.FormatVinyl,
	"lathe cut":  model.FormatVinyl,
	"flexi-disc": model.FormatVinyl,
	"shellac":    model.FormatShellac,
	"cd":         model.FormatCD,
	"cdr":        model.FormatCD,
	"sacd":       model.FormatCD,
	"cassette":   model.FormatCassette,
}

// speedTokens maps a format description to a playback speed.
var speedTokens = map[string]model.Speed{
	"33 ⅓ rpm":   model.Speed33,
	"33 1/3 rpm": model.Speed33,
	"33rpm":      model.Speed33,
	"45 rpm":     model.Speed45,
	"45rpm":      model.Speed45,
	"78 rpm":     model.Speed78,
	"78rpm":      model.Speed78,
}

// sizeTokens maps a format description to a disc size.
var sizeTokens = map[string]model.Size{
	`7"`:  model.Size7,
	`10"`: model.Size10,
	`12"`: model.Size12,
}

// impliedSizes fills the size when no explicit size description is present.
var impliedSizes = map[string]model.Size{
	"lp":     model.Size12,
	"single": model.Size7,
	"ep":     model.Size7,
}

// editionRules are checked in order; the first matching token wins.
var editionRules = []struct {
	token   string
	edition model.Edition
}{
	{"test pressing", model.EditionTestPress},
	{"promo", model.EditionPromo},
	{"unofficial release", model.EditionBootleg},
	{"limited edition", model.EditionLimited},
	{"numbered", model.EditionLimited},
	{"reissue", model.EditionReissue},
	{"repress", model.EditionReissue},
	{"remastered", model.EditionReissue},
}

// MapRelease converts a catalog release into a local pressing of albumID.
// The ID is left empty. v supplies fallbacks for fields the detail record
// omits.
func MapRelease(albumID string, v discogs.Version, rel *discogs.Release) *model.Pressing {
	p := &model.Pressing{
		AlbumID:           albumID,
		ExternalReleaseID: rel.ID,
		Title:             firstNonEmpty(rel.Title, v.Title),
		Format:            model.FormatOther,
		Edition:           model.EditionStandard,
		Country:           firstNonEmpty(rel.Country, v.Country),
		Year:              rel.Year,
	}
	if p.ExternalReleaseID == 0 {
		p.ExternalReleaseID = v.ID
	}
	if p.Year == 0 {
		p.Year = parseYear(v.Released)
	}

	var descriptions []string
	for i, f := range rel.Formats {
		if i == 0 {
			if format, ok := formatNames[strings.ToLower(strings.TrimSpace(f.Name))]; ok {
				p.Format = format
			}
		}
		descriptions = append(descriptions, f.Descriptions...)
		if f.Text != "" {
			descriptions = append(descriptions, f.Text)
		}
	}
	if len(rel.Formats) == 0 && len(v.MajorFormats) > 0 {
		if format, ok := formatNames[strings.ToLower(v.MajorFormats[0])]; ok {
			p.Format = format
		}
	}

	if p.Format == model.FormatVinyl || p.Format == model.FormatShellac {
		p.Speed, p.Size = discAttributes(descriptions)
	}
	p.Edition = edition(descriptions)

	if len(rel.Labels) > 0 {
		p.Label = rel.Labels[0].Name
		p.CatalogNumber = rel.Labels[0].CatalogNo
	} else {
		p.Label = v.Label
		p.CatalogNumber = v.CatalogNo
	}
	for _, id := range rel.Identifiers {
		if strings.EqualFold(id.Type, "barcode") && strings.TrimSpace(id.Value) != "" {
			p.Barcodes = append(p.Barcodes, strings.TrimSpace(id.Value))
		}
	}
	return p
}

func discAttributes(descriptions []string) (model.Speed, model.Size) {
	var speed model.Speed
	var size, implied model.Size
	for _, d := range descriptions {
		tok := strings.ToLower(strings.TrimSpace(d))
		if s, ok := speedTokens[tok]; ok && speed == "" {
			speed = s
		}
		if s, ok := sizeTokens[tok]; ok && size == "" {
			size = s
		}
		if s, ok := impliedSizes[tok]; ok && implied == "" {
			implied = s
		}
	}
	if size == "" {
		size = implied
	}
	return speed, size
}

func edition(descriptions []string) model.Edition {
	for _, rule := range editionRules {
		for _, d := range descriptions {
			if strings.Contains(strings.ToLower(d), rule.token) {
				return rule.edition
			}
		}
	}
	return model.EditionStandard
}

// parseYear reads the leading year of dates like "1971", "1971-06-22" or
// "1971-00-00".
func parseYear(released string) int {
	if len(released) < 4 {
		return 0
	}
	y, err := strconv.Atoi(released[:4])
	if err != nil {
		return 0
	}
	return y
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
