package discogs

// Pagination describes one page of a list response.
type Pagination struct {
	Page    int `json:"page"`
	Pages   int `json:"pages"`
	PerPage int `json:"per_page"`
	Items   int `json:"items"`
}

// Last reports whether this is the final page.
func (p Pagination) Last() bool {
	return p.Pages == 0 || p.Page >= p.Pages
}

// Version is a summary of one release of a master.
type Version struct {
	ID           int64    `json:"id"`
	Title        string   `json:"title"`
	Format       string   `json:"format"`
	Label        string   `json:"label"`
	Country      string   `json:"country"`
	Released     string   `json:"released"`
	CatalogNo    string   `json:"catno"`
	MajorFormats []string `json:"major_formats"`
}

// VersionsPage is a page of a master's versions.
type VersionsPage struct {
	Pagination Pagination `json:"pagination"`
	Versions   []Version  `json:"versions"`
}

// Release is the detail record for one release.
type Release struct {
	ID          int64        `json:"id"`
	Title       string       `json:"title"`
	Year        int          `json:"year"`
	Country     string       `json:"country"`
	Formats     []Format     `json:"formats"`
	Labels      []Label      `json:"labels"`
	Identifiers []Identifier `json:"identifiers"`
	Companies   []Company    `json:"companies"`
}

// Format is one format entry of a release, e.g. Vinyl with LP and Album
// descriptions.
type Format struct {
	Name         string   `json:"name"`
	Qty          string   `json:"qty"`
	Text         string   `json:"text"`
	Descriptions []string `json:"descriptions"`
}

type Label struct {
	Name      string `json:"name"`
	CatalogNo string `json:"catno"`
}

// Identifier is a barcode, matrix number or similar.
type Identifier struct {
	Type        string `json:"type"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
}

// Company is a pressing plant, distributor or other company credit.
type Company struct {
	Name           string `json:"name"`
	EntityTypeName string `json:"entity_type_name"`
	CatalogNo      string `json:"catno"`
}
