package model

import "time"

// Format is the physical medium of a pressing.
type Format string

const (
	FormatVinyl    Format = "vinyl"
	FormatShellac  Format = "shellac"
	FormatCD       Format = "cd"
	FormatCassette Format = "cassette"
	FormatOther    Format = "other"
)

// IsValid reports whether f is a known format.
func (f Format) IsValid() bool {
	switch f {
	case FormatVinyl, FormatShellac, FormatCD, FormatCassette, FormatOther:
		return true
	}
	return false
}

// Speed is the playback speed of a disc.
type Speed string

const (
	Speed33 Speed = "33"
	Speed45 Speed = "45"
	Speed78 Speed = "78"
)

// IsValid reports whether s is a known speed.
func (s Speed) IsValid() bool {
	switch s {
	case Speed33, Speed45, Speed78:
		return true
	}
	return false
}

// Size is the diameter of a disc.
type Size string

const (
	Size7  Size = "7in"
	Size10 Size = "10in"
	Size12 Size = "12in"
)

// IsValid reports whether s is a known size.
func (s Size) IsValid() bool {
	switch s {
	case Size7, Size10, Size12:
		return true
	}
	return false
}

// Edition classifies a pressing beyond its format.
type Edition string

const (
	EditionStandard  Edition = "standard"
	EditionReissue   Edition = "reissue"
	EditionLimited   Edition = "limited"
	EditionPromo     Edition = "promo"
	EditionTestPress Edition = "test_pressing"
	EditionBootleg   Edition = "bootleg"
)

// Album is the local master entity a catalog import hangs off.
type Album struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Artist            string     `json:"artist"`
	ExternalMasterID  int64      `json:"external_master_id,omitempty"`
	ImportCompletedAt *time.Time `json:"import_completed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Imported reports whether a catalog import already finished for the album.
func (a *Album) Imported() bool {
	return a.ImportCompletedAt != nil
}

// Pressing is one concrete release of an album.
type Pressing struct {
	ID                string    `json:"id"`
	AlbumID           string    `json:"album_id"`
	ExternalReleaseID int64     `json:"external_release_id"`
	Title             string    `json:"title"`
	Format            Format    `json:"format"`
	Speed             Speed     `json:"speed,omitempty"`
	Size              Size      `json:"size,omitempty"`
	Edition           Edition   `json:"edition,omitempty"`
	Label             string    `json:"label,omitempty"`
	CatalogNumber     string    `json:"catalog_number,omitempty"`
	Country           string    `json:"country,omitempty"`
	Year              int       `json:"year,omitempty"`
	Barcodes          []string  `json:"barcodes,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}
